//go:build linux

package actuator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioLine is the subset of *gpiocdev.Line the soft PWM needs.
type gpioLine interface {
	SetValue(value int) error
	Close() error
}

// openGPIO requests the given BCM GPIO as an output through the Linux GPIO
// character device and drives it with a software PWM.
//
// Software PWM jitters with scheduler latency; it is meant for LEDs and
// similar loads, not servos.
func openGPIO(pin int) (Driver, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("actuator: invalid gpio pin %d", pin)
	}

	// On Pi, line names are "GPIO18" etc.
	lineName := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels may put the header on a chip other than gpiochip0.
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join("/dev", name)
		if strings.HasPrefix(name, "gpiochip") && p != chipCandidates[0] && p != chipCandidates[1] {
			chipCandidates = append(chipCandidates, p)
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("pwm-relay"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return newSoftPWM(line, chip), nil
	}

	return nil, fmt.Errorf("actuator: gpio line %q not found (or busy)", lineName)
}

type softPWM struct {
	line gpioLine
	chip interface{ Close() error }

	mu      sync.Mutex
	period  time.Duration
	duty    float64
	running bool
	closed  bool
	stopCh  chan struct{}
	// changed wakes a run loop parked on a steady 0% or 100% level.
	changed chan struct{}
	wg      sync.WaitGroup
}

func newSoftPWM(line gpioLine, chip interface{ Close() error }) *softPWM {
	return &softPWM{
		line:    line,
		chip:    chip,
		period:  time.Millisecond,
		changed: make(chan struct{}, 1),
	}
}

func (s *softPWM) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *softPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("actuator: invalid frequency %d", hz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("actuator: gpio closed")
	}
	s.period = time.Second / time.Duration(hz)
	if s.period <= 0 {
		s.period = time.Nanosecond
	}
	s.notify()
	return nil
}

func (s *softPWM) SetDutyPercent(p float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("actuator: gpio closed")
	}
	s.duty = Clamp(p, 0, 100)
	s.notify()
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.run(s.stopCh)
	}
	return nil
}

func (s *softPWM) settings() (time.Duration, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period, s.duty
}

func (s *softPWM) run(stop <-chan struct{}) {
	defer s.wg.Done()
	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C

	wait := func(d time.Duration) bool {
		t.Reset(d)
		select {
		case <-t.C:
			return true
		case <-stop:
			return false
		}
	}

	level := -1
	for {
		period, duty := s.settings()
		on := time.Duration(float64(period) * duty / 100)

		if on <= 0 || on >= period {
			// Steady level: write it once and park until something changes.
			want := 0
			if on >= period {
				want = 1
			}
			if want != level {
				_ = s.line.SetValue(want)
				level = want
			}
			select {
			case <-s.changed:
				continue
			case <-stop:
				return
			}
		}

		_ = s.line.SetValue(1)
		if !wait(on) {
			return
		}
		_ = s.line.SetValue(0)
		level = 0
		if !wait(period - on) {
			return
		}
	}
}

// Stop halts the PWM goroutine and drives the line low.
func (s *softPWM) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.duty = 0
	s.mu.Unlock()

	s.wg.Wait()
	return s.line.SetValue(0)
}

func (s *softPWM) Close() error {
	// Releasing the line matters more than the final level.
	_ = s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.line.Close()
	if s.chip != nil {
		err = errors.Join(err, s.chip.Close())
	}
	return err
}
