// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package wakeup

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/power"
)

// Status is the lifecycle status of a wake-up timer
type Status int

const (
	// Free timers sit in the pool and are not owned by anyone
	Free Status = iota
	// Active timers are linked in the time-ordered list
	Active
	// Running timers have expired and their callback is executing
	Running
	// Inactive timers are owned by a caller but not armed
	Inactive
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case Active:
		return "active"
	case Running:
		return "running"
	case Inactive:
		return "inactive"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Origin tells where the storage of a timer came from
type Origin int

const (
	// Pool timers are statically pre-allocated at boot
	Pool Origin = iota
	// Dynamic timers were allocated because the pool was empty
	Dynamic
)

func (o Origin) String() string {
	if o == Dynamic {
		return "dynamic"
	}
	return "pool"
}

// Handle refers to a wake-up timer. Handles of deleted timers are stale and
// rejected by every operation.
type Handle struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether h was never returned by Create
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("timer-%d.%d", h.slot, h.gen)
}

// Callback runs when a timer expires. It runs outside the scheduler's
// section and may arm, cancel or delete timers, but must not advance the
// scheduler.
type Callback func()

// Entry describes one armed timer
type Entry struct {
	Handle   Handle
	Deadline uint64
	Periodic bool
	Origin   Origin
}

// NoDeadline is returned by SleepInterval when no timer is armed
const NoDeadline time.Duration = math.MaxInt64

var (
	ErrInvalidHandle   = fmt.Errorf("%w: invalid wake-up timer handle", power.ErrInvalidArgument)
	ErrInvalidInterval = fmt.Errorf("%w: wake-up interval must be positive", power.ErrInvalidArgument)
	ErrNilCallback     = fmt.Errorf("%w: wake-up callback is nil", power.ErrInvalidArgument)
	ErrPoolExhausted   = fmt.Errorf("%w: wake-up timer pool is empty", power.ErrExhausted)

	// ErrSleepTooShort means the next wake-up is closer than the minimum
	// sleep, so no hardware timer should be programmed
	ErrSleepTooShort = errors.New("next wake-up is closer than the minimum sleep duration")
)
