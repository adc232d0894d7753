//go:build !linux

package spi

import "fmt"

type Bus struct{}

func DevicePath(bus, device int) string { return fmt.Sprintf("spidev%d.%d", bus, device) }

func Open(bus, device int) (*Bus, error) { return nil, fmt.Errorf("spi: unsupported OS (need linux)") }

func (b *Bus) Path() string                  { return "" }
func (b *Bus) SetMaxSpeedHz(hz uint32) error { return fmt.Errorf("spi: unsupported OS") }
func (b *Bus) MaxSpeedHz() (uint32, error)   { return 0, fmt.Errorf("spi: unsupported OS") }
func (b *Bus) Close() error                  { return nil }
