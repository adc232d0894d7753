//go:build linux

package actuator

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// sysfsPWM drives a hardware PWM channel via /sys/class/pwm.
//
// On Raspberry Pi, GPIO18 is exposed as pwmchip0/pwm0 once
// `dtoverlay=pwm-2chan` (or `dtoverlay=pwm`) is enabled.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	// exported is true when we exported the channel and must unexport it on Close.
	exported bool

	periodNS uint64
	dutyPct  float64
	enabled  bool
	closed   bool
}

var pwmSysfsBase = "/sys/class/pwm"

// exportWait bounds how long we wait for the kernel to create pwmM after export.
var exportWait = 500 * time.Millisecond

func openPWM(chip string, channel int) (Driver, error) {
	if channel < 0 {
		return nil, fmt.Errorf("actuator: invalid pwm channel %d", channel)
	}

	var chipPath string
	if chip == "" {
		found, err := findPWMChip(channel)
		if err != nil {
			return nil, err
		}
		chipPath = found
	} else {
		chipPath = filepath.Join(pwmSysfsBase, chip)
		if _, err := os.Stat(chipPath); err != nil {
			return nil, fmt.Errorf("actuator: pwm chip %s: %w", chip, err)
		}
	}

	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	// Start disabled; SetFrequencyHz programs the period and enables.
	_ = d.writeBool("enable", false)
	return d, nil
}

// findPWMChip returns the first pwmchipN under pwmSysfsBase that exposes at
// least channel+1 channels, preferring lower chip numbers.
func findPWMChip(channel int) (string, error) {
	base := pwmSysfsBase
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("actuator: read %s: %w", base, err)
	}

	// pwmchipN entries are commonly symlinks, not directories.
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return chipIndex(names[i]) < chipIndex(names[j])
	})

	for _, name := range names {
		chip := filepath.Join(base, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil || n <= channel {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("actuator: no sysfs pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

func chipIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "pwmchip"))
	if err != nil {
		return math.MaxInt
	}
	return n
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	if err := writeSysfsFn(filepath.Join(d.chipPath, "export"), strconv.Itoa(d.channel)); err != nil {
		// Someone else may have exported it in the meantime.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("actuator: export pwm: %w", err)
	}
	d.exported = true

	deadline := time.Now().Add(exportWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("actuator: pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) SetFrequencyHz(hz int) error {
	if d.closed {
		return errors.New("actuator: pwm closed")
	}
	if hz <= 0 {
		return fmt.Errorf("actuator: invalid frequency %d", hz)
	}
	periodNS := uint64(1_000_000_000 / hz)
	if periodNS == 0 {
		periodNS = 1
	}

	// The kernel rejects period < duty_cycle, so drop duty before shrinking.
	_ = d.writeBool("enable", false)
	d.enabled = false
	if err := d.writeUint("duty_cycle", 0); err != nil {
		return err
	}
	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS

	if err := d.writeUint("duty_cycle", d.dutyNS(d.dutyPct)); err != nil {
		return err
	}
	if err := d.writeBool("enable", true); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

func (d *sysfsPWM) SetDutyPercent(p float64) error {
	if d.closed {
		return errors.New("actuator: pwm closed")
	}
	p = Clamp(p, 0, 100)
	if d.periodNS == 0 {
		return errors.New("actuator: pwm frequency not set")
	}
	if err := d.writeUint("duty_cycle", d.dutyNS(p)); err != nil {
		return err
	}
	d.dutyPct = p

	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return err
		}
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) dutyNS(p float64) uint64 {
	duty := uint64(math.Round(float64(d.periodNS) * (p / 100.0)))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	return duty
}

func (d *sysfsPWM) Stop() error {
	if d.closed {
		return nil
	}
	err1 := d.writeUint("duty_cycle", 0)
	err2 := d.writeBool("enable", false)
	d.dutyPct = 0
	d.enabled = false
	return errors.Join(err1, err2)
}

func (d *sysfsPWM) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if !d.exported {
		return nil
	}
	return writeSysfsFn(filepath.Join(d.chipPath, "unexport"), strconv.Itoa(d.channel))
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfsFn(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfsFn(filepath.Join(d.pwmPath, name), val)
}

// sysfsRetry bounds retries of EACCES/ENOENT right after export, while udev
// is still fixing up permissions on the new attribute files.
var sysfsRetry = 2 * time.Second

var writeSysfsFn = writeSysfs

func writeSysfs(path string, value string) error {
	// O_WRONLY without O_TRUNC/O_CREATE: some sysfs attributes reject truncation.
	deadline := time.Now().Add(sysfsRetry)
	for {
		err := writeOnce(path, value)
		if err == nil {
			return nil
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	return errors.Join(werr, cerr)
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
