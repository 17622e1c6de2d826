// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Level selects the groups of PM metrics to export using bit patterns
type Level uint32

const (
	MetricsLevelState  Level = 1 << iota // 1
	MetricsLevelDomain                   // 2
	MetricsLevelWakeup                   // 4
	MetricsLevelSleep                    // 8

	// MetricsLevelAll represents all metric levels combined
	MetricsLevelAll = MetricsLevelState | MetricsLevelDomain | MetricsLevelWakeup | MetricsLevelSleep
)

var levelNames = []struct {
	level Level
	name  string
}{
	{MetricsLevelState, "state"},
	{MetricsLevelDomain, "domain"},
	{MetricsLevelWakeup, "wakeup"},
	{MetricsLevelSleep, "sleep"},
}

func (l Level) names() []string {
	var levels []string
	for _, ln := range levelNames {
		if l&ln.level != 0 {
			levels = append(levels, ln.name)
		}
	}
	return levels
}

// String returns the string representation of the level
func (l Level) String() string {
	return strings.Join(l.names(), ",")
}

// IsStateEnabled checks if power state metrics are enabled
func (l Level) IsStateEnabled() bool {
	return l&MetricsLevelState != 0
}

// IsDomainEnabled checks if domain metrics are enabled
func (l Level) IsDomainEnabled() bool {
	return l&MetricsLevelDomain != 0
}

// IsWakeupEnabled checks if wake-up timer metrics are enabled
func (l Level) IsWakeupEnabled() bool {
	return l&MetricsLevelWakeup != 0
}

// IsSleepEnabled checks if sleep sequencer metrics are enabled
func (l Level) IsSleepEnabled() bool {
	return l&MetricsLevelSleep != 0
}

// ParseLevel parses a slice of strings into a Level
func ParseLevel(levels []string) (Level, error) {
	if len(levels) == 0 {
		return MetricsLevelAll, nil
	}

	var result Level
	for _, level := range levels {
		name := strings.ToLower(strings.TrimSpace(level))
		found := false
		for _, ln := range levelNames {
			if ln.name == name {
				result |= ln.level
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown metrics level: %s", level)
		}
	}

	return result, nil
}

// ValidLevels returns the list of valid metrics levels
func ValidLevels() []string {
	return MetricsLevelAll.names()
}

// MarshalYAML implements yaml.Marshaler interface
func (l Level) MarshalYAML() (interface{}, error) {
	levels := l.names()

	// Return as slice for multiple levels, single string for one level
	if len(levels) == 1 {
		return levels[0], nil
	}
	return levels, nil
}

// UnmarshalYAML implements yaml.Unmarshaler interface
func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// Try to unmarshal as a string first
	var single string
	if err := unmarshal(&single); err == nil {
		parsed, parseErr := ParseLevel([]string{single})
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	// Try to unmarshal as a slice of strings
	var multiple []string
	if err := unmarshal(&multiple); err == nil {
		parsed, parseErr := ParseLevel(multiple)
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	return fmt.Errorf("cannot unmarshal metrics level: must be a string or array of strings")
}
