package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// releaser holds the release hooks for acquired hardware. Hooks are set as
// each handle is acquired and run once, in a fixed order: stop the actuator
// output, release the actuator, release the auxiliary handle. Every hook
// runs even if an earlier one failed.
type releaser struct {
	logger *slog.Logger

	stopActuator  func() error
	closeActuator func() error
	closeAux      func() error

	once sync.Once
	err  error
}

func (r *releaser) release() error {
	r.once.Do(func() {
		steps := []struct {
			name string
			fn   func() error
		}{
			{"stop actuator", r.stopActuator},
			{"release actuator", r.closeActuator},
			{"release spi", r.closeAux},
		}

		var errs []error
		for _, s := range steps {
			if s.fn == nil {
				continue
			}
			if err := s.fn(); err != nil {
				r.logger.Error("cleanup step failed", "step", s.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			r.logger.Debug("cleanup step done", "step", s.name)
		}
		r.err = errors.Join(errs...)
	})
	return r.err
}
