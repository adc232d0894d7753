//go:build !linux

package actuator

// Stub implementation for non-Linux platforms.
func openGPIO(pin int) (Driver, error) {
	return nil, ErrUnsupported
}
