// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"maps"
	"slices"
)

// profiles are the build-time constants of the supported boards, as YAML
// fragments merged over the defaults
var profiles = map[string]string{
	// single core Wi-Fi SoC with a 32.768 kHz RTC
	"rtl8721csm": `
pm:
  tickPeriod: 10ms
  cores: 1
board:
  counterHz: 32768
`,
	// dual core SoC; the AON timer runs at 1 MHz
	"rtl8730e": `
pm:
  tickPeriod: 1ms
  timeSlice: 100ms
  minSleep: 5ms
  cores: 2
  timerPoolSize: 32
board:
  counterHz: 1000000
`,
	// dual core SoC clocked from the 150 kHz internal RTC oscillator
	"esp32": `
pm:
  tickPeriod: 10ms
  cores: 2
board:
  counterHz: 150000
`,
}

// Profiles returns the names of the built-in board profiles
func Profiles() []string {
	return slices.Sorted(maps.Keys(profiles))
}

// Profile returns the YAML fragment of the named board profile
func Profile(name string) (string, error) {
	p, ok := profiles[name]
	if !ok {
		return "", fmt.Errorf("unknown board profile %q, valid profiles: %v", name, Profiles())
	}
	return p, nil
}
