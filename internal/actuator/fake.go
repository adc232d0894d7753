package actuator

import (
	"fmt"
	"sync"
)

// Fake is an in-memory Driver. It backs the "fake" backend on development
// hosts and records every call for tests.
type Fake struct {
	mu      sync.Mutex
	events  []string
	duties  []float64
	freqHz  int
	stopped bool
	closed  bool

	// DutyErr, when set before use, is returned from every SetDutyPercent.
	DutyErr error
	// StopErr and CloseErr are returned from Stop and Close.
	StopErr  error
	CloseErr error
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) SetFrequencyHz(hz int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("freq:%d", hz))
	f.freqHz = hz
	return nil
}

func (f *Fake) SetDutyPercent(p float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("duty:%g", p))
	if f.DutyErr != nil {
		return f.DutyErr
	}
	f.duties = append(f.duties, p)
	f.stopped = false
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop")
	f.stopped = true
	return f.StopErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "close")
	f.closed = true
	return f.CloseErr
}

// Events returns every call in order, e.g. "freq:1000", "duty:0", "stop".
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// Duties returns the successfully applied duty values in order.
func (f *Fake) Duties() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.duties...)
}

func (f *Fake) FrequencyHz() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freqHz
}

func (f *Fake) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
