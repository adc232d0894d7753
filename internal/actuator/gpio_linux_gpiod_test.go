//go:build linux

package actuator

import (
	"sync"
	"testing"
	"time"
)

type fakeLine struct {
	mu     sync.Mutex
	values []int
	closed int
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *fakeLine) last() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.values) == 0 {
		return -1, 0
	}
	return l.values[len(l.values)-1], len(l.values)
}

func TestSoftPWM_FullDutyDrivesHigh(t *testing.T) {
	line := &fakeLine{}
	chip := &fakeLine{}
	p := newSoftPWM(line, chip)

	if err := p.SetFrequencyHz(1000); err != nil {
		t.Fatalf("SetFrequencyHz: %v", err)
	}
	if err := p.SetDutyPercent(100); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if v, n := line.last(); v == 1 && n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("line never driven high")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if v, _ := line.last(); v != 0 {
		t.Fatalf("line=%d after Stop want 0", v)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if line.closed != 1 || chip.closed != 1 {
		t.Fatalf("line closed=%d chip closed=%d want 1,1", line.closed, chip.closed)
	}
	if err := p.SetDutyPercent(50); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func waitForLine(t *testing.T, line *fakeLine, cond func(v, n int) bool, what string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if v, n := line.last(); cond(v, n) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSoftPWM_SteadyLevelWrittenOnce(t *testing.T) {
	line := &fakeLine{}
	p := newSoftPWM(line, nil)
	defer p.Close()

	if err := p.SetFrequencyHz(1000); err != nil {
		t.Fatalf("SetFrequencyHz: %v", err)
	}
	if err := p.SetDutyPercent(0); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	waitForLine(t, line, func(v, n int) bool { return n > 0 }, "first write")

	// At 1 kHz, 50 periods pass; a parked loop writes nothing more.
	time.Sleep(50 * time.Millisecond)
	if v, n := line.last(); v != 0 || n != 1 {
		t.Fatalf("line=%d writes=%d at 0%% want 0,1", v, n)
	}

	if err := p.SetDutyPercent(100); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	waitForLine(t, line, func(v, n int) bool { return v == 1 }, "line high")
	time.Sleep(50 * time.Millisecond)
	if v, n := line.last(); v != 1 || n != 2 {
		t.Fatalf("line=%d writes=%d at 100%% want 1,2", v, n)
	}

	// A partial duty wakes the loop and pulses again.
	if err := p.SetDutyPercent(50); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	waitForLine(t, line, func(v, n int) bool { return n > 10 }, "pulsing at 50%")
}

func TestSoftPWM_InvalidFrequency(t *testing.T) {
	p := newSoftPWM(&fakeLine{}, nil)
	if err := p.SetFrequencyHz(0); err == nil {
		t.Fatalf("expected error for 0 Hz")
	}
}

func TestOpenGPIO_InvalidPin(t *testing.T) {
	if _, err := openGPIO(0); err == nil {
		t.Fatalf("expected error for pin 0")
	}
}
