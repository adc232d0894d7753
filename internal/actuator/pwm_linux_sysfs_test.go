//go:build linux

package actuator

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

type sysfsRecorder struct {
	mu     sync.Mutex
	writes []string
	values map[string]string
}

// useFakeSysfs points the sysfs backend at a temp tree and records writes.
// Writing to <chip>/export creates <chip>/pwmN like the kernel does.
func useFakeSysfs(t *testing.T, chips map[string]int) (string, *sysfsRecorder) {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "pwm")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for name, npwm := range chips {
		// Real sysfs exposes pwmchipN as symlinks.
		real := filepath.Join(dir, "real-"+name)
		if err := os.MkdirAll(real, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(filepath.Join(real, "npwm"), []byte(strconv.Itoa(npwm)+"\n"), 0o644); err != nil {
			t.Fatalf("WriteFile npwm: %v", err)
		}
		if err := os.Symlink(real, filepath.Join(base, name)); err != nil {
			t.Fatalf("Symlink: %v", err)
		}
	}

	rec := &sysfsRecorder{values: map[string]string{}}
	oldBase, oldWrite := pwmSysfsBase, writeSysfsFn
	pwmSysfsBase = base
	writeSysfsFn = func(path, value string) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rel, _ := filepath.Rel(base, path)
		rec.writes = append(rec.writes, rel+"="+value)
		rec.values[rel] = value
		if filepath.Base(path) == "export" {
			return os.MkdirAll(filepath.Join(filepath.Dir(path), "pwm"+value), 0o755)
		}
		return nil
	}
	t.Cleanup(func() {
		pwmSysfsBase = oldBase
		writeSysfsFn = oldWrite
	})
	return base, rec
}

func (r *sysfsRecorder) value(rel string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[rel]
}

func TestFindPWMChip_PrefersLowestWithChannel(t *testing.T) {
	base, _ := useFakeSysfs(t, map[string]int{"pwmchip2": 2, "pwmchip0": 1, "pwmchip10": 4})

	chip, err := findPWMChip(0)
	if err != nil {
		t.Fatalf("findPWMChip(0): %v", err)
	}
	if chip != filepath.Join(base, "pwmchip0") {
		t.Fatalf("chip=%q want pwmchip0", chip)
	}

	chip, err = findPWMChip(1)
	if err != nil {
		t.Fatalf("findPWMChip(1): %v", err)
	}
	if chip != filepath.Join(base, "pwmchip2") {
		t.Fatalf("chip=%q want pwmchip2", chip)
	}

	if _, err := findPWMChip(7); err == nil {
		t.Fatalf("expected error when no chip has channel 7")
	}
}

func TestSysfsPWM_Lifecycle(t *testing.T) {
	_, rec := useFakeSysfs(t, map[string]int{"pwmchip0": 2})

	drv, err := openPWM("", 0)
	if err != nil {
		t.Fatalf("openPWM: %v", err)
	}
	if got := rec.value("pwmchip0/export"); got != "0" {
		t.Fatalf("export=%q want 0", got)
	}

	if err := drv.SetDutyPercent(10); err == nil {
		t.Fatalf("expected error before frequency is set")
	}

	if err := drv.SetFrequencyHz(1000); err != nil {
		t.Fatalf("SetFrequencyHz: %v", err)
	}
	if got := rec.value("pwmchip0/pwm0/period"); got != "1000000" {
		t.Fatalf("period=%q want 1000000", got)
	}
	if got := rec.value("pwmchip0/pwm0/enable"); got != "1" {
		t.Fatalf("enable=%q want 1", got)
	}

	if err := drv.SetDutyPercent(25); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	if got := rec.value("pwmchip0/pwm0/duty_cycle"); got != "250000" {
		t.Fatalf("duty_cycle=%q want 250000", got)
	}
	if err := drv.SetDutyPercent(250); err != nil {
		t.Fatalf("SetDutyPercent: %v", err)
	}
	if got := rec.value("pwmchip0/pwm0/duty_cycle"); got != "1000000" {
		t.Fatalf("duty_cycle=%q want clamped 1000000", got)
	}

	if err := drv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.value("pwmchip0/pwm0/duty_cycle") != "0" || rec.value("pwmchip0/pwm0/enable") != "0" {
		t.Fatalf("after Stop duty=%q enable=%q", rec.value("pwmchip0/pwm0/duty_cycle"), rec.value("pwmchip0/pwm0/enable"))
	}

	if err := drv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := rec.value("pwmchip0/unexport"); got != "0" {
		t.Fatalf("unexport=%q want 0", got)
	}
	if err := drv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := drv.SetDutyPercent(1); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestSysfsPWM_PreExportedIsNotUnexported(t *testing.T) {
	base, rec := useFakeSysfs(t, map[string]int{"pwmchip0": 2})
	if err := os.MkdirAll(filepath.Join(base, "pwmchip0", "pwm1"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	drv, err := openPWM("pwmchip0", 1)
	if err != nil {
		t.Fatalf("openPWM: %v", err)
	}
	if err := drv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := rec.value("pwmchip0/export"); got != "" {
		t.Fatalf("export=%q want none", got)
	}
	if got := rec.value("pwmchip0/unexport"); got != "" {
		t.Fatalf("unexport=%q want none", got)
	}
}

func TestOpenPWM_UnknownChip(t *testing.T) {
	useFakeSysfs(t, map[string]int{"pwmchip0": 2})
	if _, err := openPWM("pwmchip9", 0); err == nil {
		t.Fatalf("expected error for missing chip")
	}
}
