//go:build !linux

package actuator

func openPWM(chip string, channel int) (Driver, error) {
	return nil, ErrUnsupported
}
