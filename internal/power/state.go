// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package power

import "fmt"

// State is a power-management state. Larger values are deeper states with
// more aggressive power savings.
type State int

const (
	Foreground State = iota
	Normal
	Idle
	Standby
	Sleep
)

// NumStates is the number of valid states
const NumStates = int(Sleep) + 1

var stateNames = [NumStates]string{
	Foreground: "FOREGROUND",
	Normal:     "NORMAL",
	Idle:       "IDLE",
	Standby:    "STANDBY",
	Sleep:      "SLEEP",
}

// States returns all valid states ordered from shallowest to deepest
func States() []State {
	return []State{Foreground, Normal, Idle, Standby, Sleep}
}

func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Valid reports whether s is one of the defined states
func (s State) Valid() bool {
	return s >= Foreground && s <= Sleep
}

// DeeperThan reports whether s saves more power than other
func (s State) DeeperThan(other State) bool {
	return s > other
}

// Shallowest returns the least aggressive of the given states
func Shallowest(a, b State) State {
	if a < b {
		return a
	}
	return b
}

// ParseState parses a state name as rendered by State.String
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, name)
}
