//go:build !linux

package actuator

func BoardModel() string { return "" }
