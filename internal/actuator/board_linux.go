//go:build linux

package actuator

import (
	"os"
	"strings"
)

// Device-tree model locations, most specific first.
var boardModelPaths = []string{
	"/sys/firmware/devicetree/base/model",
	"/proc/device-tree/model",
}

// BoardModel returns the device-tree model string (for example
// "Raspberry Pi 4 Model B Rev 1.4"), or "" when the host has none.
func BoardModel() string {
	for _, p := range boardModelPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		model := strings.Trim(strings.TrimSpace(string(b)), "\x00")
		if model != "" {
			return model
		}
	}
	return ""
}
