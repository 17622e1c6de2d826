// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"

	"github.com/sustainable-computing-io/pmcore/internal/power"
)

// MaxPriority is the highest activity priority a driver may report
const MaxPriority = 9

// Vetoer reports the deepest state the suspended domains allow
type Vetoer interface {
	Veto() power.State
}

// TickSource returns the current OS tick
type TickSource interface {
	Now() uint64
}

// Callback is a subsystem that follows state changes. Prepare runs before a
// change is committed and Notify after it; either may be nil. A failing
// Prepare is recorded but does not stop the change.
type Callback struct {
	Name    string
	Prepare func(next power.State) error
	Notify  func(state power.State)
}

// Stats is a snapshot of the state machine bookkeeping
type Stats struct {
	Current     power.State
	Recommended power.State
	// Ticks spent in each state since boot, including the current stay
	Ticks [power.NumStates]uint64
	// Transitions counts the entries into each state
	Transitions     [power.NumStates]uint64
	PrepareFailures uint64
	Activity        uint32
}

var (
	ErrInvalidState      = fmt.Errorf("%w: invalid power state", power.ErrInvalidArgument)
	ErrInvalidPriority   = fmt.Errorf("%w: activity priority out of range", power.ErrInvalidArgument)
	ErrInvalidCallback   = fmt.Errorf("%w: callback needs a name", power.ErrInvalidArgument)
	ErrDuplicateCallback = fmt.Errorf("%w: callback already registered", power.ErrInvalidArgument)
	ErrUnknownCallback   = fmt.Errorf("%w: callback not registered", power.ErrInvalidArgument)

	// ErrVetoed means a suspended domain forbids the requested state
	ErrVetoed = fmt.Errorf("%w: state vetoed by a suspended domain", power.ErrInvariant)
)
