//go:build linux

package spi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Minimal Linux spidev handle backed by /dev/spidevB.D.
//
// The relay only acquires, configures and releases the bus; transfers are
// left to whatever owns the attached device.

const (
	// _IOW('k', 4, __u32) and _IOR('k', 4, __u32) from linux/spi/spidev.h.
	spiIocWrMaxSpeedHz = 0x40046b04
	spiIocRdMaxSpeedHz = 0x80046b04
)

var devRoot = "/dev"

// Bus is an opened spidev node.
//
// Bus is not safe for concurrent use.
type Bus struct {
	f    *os.File
	path string
}

// DevicePath returns the spidev node for a bus/chip-select pair.
func DevicePath(bus, device int) string {
	return filepath.Join(devRoot, fmt.Sprintf("spidev%d.%d", bus, device))
}

func Open(bus, device int) (*Bus, error) {
	if bus < 0 || device < 0 {
		return nil, fmt.Errorf("spi: invalid bus %d device %d", bus, device)
	}
	path := DevicePath(bus, device)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spi: open %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

// SetMaxSpeedHz configures the default transfer clock for the handle.
func (b *Bus) SetMaxSpeedHz(hz uint32) error {
	if b == nil || b.f == nil {
		return errors.New("spi: bus is closed")
	}
	if hz == 0 || hz > 1<<31-1 {
		return fmt.Errorf("spi: invalid max speed %d", hz)
	}
	if err := unix.IoctlSetPointerInt(int(b.f.Fd()), spiIocWrMaxSpeedHz, int(hz)); err != nil {
		return fmt.Errorf("spi: set max speed on %s: %w", b.path, err)
	}
	return nil
}

// MaxSpeedHz reads back the configured transfer clock.
func (b *Bus) MaxSpeedHz() (uint32, error) {
	if b == nil || b.f == nil {
		return 0, errors.New("spi: bus is closed")
	}
	hz, err := unix.IoctlGetUint32(int(b.f.Fd()), spiIocRdMaxSpeedHz)
	if err != nil {
		return 0, fmt.Errorf("spi: read max speed on %s: %w", b.path, err)
	}
	return hz, nil
}

// Close releases the handle. Calling it more than once is a no-op.
func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}
