package actuator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned by backends that cannot run on this platform.
var ErrUnsupported = errors.New("actuator: unsupported on this platform")

// Driver is the minimal interface the relay needs from a PWM output.
//
// Duty is expressed in percent (0..100). Stop turns the output off but keeps
// the handle; Close releases the handle. Both should be best-effort and
// leave the output in a safe (off) state.
type Driver interface {
	SetFrequencyHz(hz int) error
	SetDutyPercent(p float64) error
	Stop() error
	Close() error
}

// Config selects and addresses a backend.
type Config struct {
	// Backend is "pwm", "gpio" or "fake".
	Backend string

	// PWMChip is a sysfs chip name such as "pwmchip0"; empty auto-detects.
	PWMChip    string
	PWMChannel int

	// GPIOPin is BCM numbering; config defaults it to 18.
	GPIOPin int
}

var (
	openPWMFn  = openPWM
	openGPIOFn = openGPIO
)

// Open returns the driver for cfg.Backend.
func Open(cfg Config) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "pwm":
		return openPWMFn(cfg.PWMChip, cfg.PWMChannel)
	case "gpio":
		return openGPIOFn(cfg.GPIOPin)
	case "fake":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("actuator: unknown backend %q", cfg.Backend)
	}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
