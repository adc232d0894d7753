package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pwm-relay/internal/metrics"
)

// Source yields the latest setpoint and whether one has been received.
type Source interface {
	Load() (float64, bool)
}

// DutySink receives a small text record per applied duty (e.g. a UDP mirror).
// Send must not block for long.
type DutySink interface {
	Send(payload []byte) error
}

type LoopConfig struct {
	// Interval between actuation ticks.
	Interval time.Duration
	// FrequencyHz is reported in snapshots only; the lifecycle programs it.
	FrequencyHz int
	Backend     string

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.ActuatorMetrics
	Sink    DutySink
}

// Snapshot is what the loop last did, for status reporting.
type Snapshot struct {
	Backend     string `json:"backend"`
	FrequencyHz int    `json:"frequency_hz"`
	Interval    string `json:"interval"`

	HaveSetpoint bool    `json:"have_setpoint"`
	Setpoint     float64 `json:"setpoint"`
	Applied      bool    `json:"applied"`
	DutyPercent  float64 `json:"duty_percent"`

	Ticks uint64 `json:"ticks"`
	// LastUpdateUTC is RFC3339Nano, empty until the first apply attempt.
	LastUpdateUTC string `json:"last_update_utc,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Loop periodically applies clamp(setpoint, 0, 100) to a Driver.
type Loop struct {
	cfg LoopConfig
	drv Driver
	src Source

	mu   sync.RWMutex
	snap Snapshot
}

func NewLoop(cfg LoopConfig, drv Driver, src Source) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Loop{cfg: cfg, drv: drv, src: src}
	l.snap = Snapshot{
		Backend:     cfg.Backend,
		FrequencyHz: cfg.FrequencyHz,
		Interval:    cfg.Interval.String(),
	}
	return l
}

func (l *Loop) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Loop) setState(update func(*Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	update(&l.snap)
}

// Run ticks until ctx is canceled. It never returns an error on its own;
// driver failures are recorded and retried on the next tick.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil || l.drv == nil || l.src == nil {
		return fmt.Errorf("actuator: loop not initialized")
	}

	t := l.cfg.Clock.NewTicker(l.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	v, ok := l.src.Load()
	if !ok {
		l.setState(func(sn *Snapshot) { sn.Ticks++ })
		return
	}

	duty := Clamp(v, 0, 100)
	if m := l.cfg.Metrics; m != nil {
		m.Setpoint.Set(v)
	}

	if err := l.drv.SetDutyPercent(duty); err != nil {
		l.cfg.Logger.Warn("set duty failed", "duty", duty, "error", err)
		if m := l.cfg.Metrics; m != nil {
			m.DriverErrors.Inc()
		}
		l.setState(func(sn *Snapshot) {
			sn.Ticks++
			sn.HaveSetpoint = true
			sn.Setpoint = v
			sn.LastError = err.Error()
			sn.LastUpdateUTC = l.cfg.Clock.Now().UTC().Format(time.RFC3339Nano)
		})
		return
	}

	prev := l.Snapshot()
	if !prev.Applied || prev.DutyPercent != duty {
		l.cfg.Logger.Info("set pwm duty cycle", "duty", duty, "setpoint", v)
	} else {
		l.cfg.Logger.Debug("set pwm duty cycle", "duty", duty)
	}

	l.setState(func(sn *Snapshot) {
		sn.Ticks++
		sn.HaveSetpoint = true
		sn.Setpoint = v
		sn.Applied = true
		sn.DutyPercent = duty
		sn.LastError = ""
		sn.LastUpdateUTC = l.cfg.Clock.Now().UTC().Format(time.RFC3339Nano)
	})

	if m := l.cfg.Metrics; m != nil {
		m.Applies.Inc()
		m.DutyPercent.Set(duty)
	}
	if l.cfg.Sink != nil {
		if err := l.cfg.Sink.Send([]byte(fmt.Sprintf("duty=%g", duty))); err != nil {
			l.cfg.Logger.Debug("duty telemetry send failed", "error", err)
		}
	}
}
