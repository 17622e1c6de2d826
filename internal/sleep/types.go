// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sleep

import (
	"fmt"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/power"
)

// WakeHandler is called by the board from the wake interrupt with the
// number of real-time counter units spent asleep
type WakeHandler func(elapsed uint64, reason power.WakeReason)

// Board is the hardware sleep primitive
type Board interface {
	// Sleep stops the CPU for at most intervalUS microseconds, zero meaning
	// no deadline. It calls onWake from the wake interrupt and returns the
	// elapsed real-time counter units and the wake reason.
	Sleep(intervalUS uint64, onWake WakeHandler) (elapsed uint64, reason power.WakeReason)

	// CounterHz is the frequency of the real-time counter used to measure
	// sleeps. The tick counter cannot be used: it is stopped while asleep.
	CounterHz() uint64
}

// Interrupter is implemented by boards whose sleep can be ended from outside
type Interrupter interface {
	Interrupt(reason power.WakeReason)
}

// StateMachine recommends and commits power states
type StateMachine interface {
	CheckState() power.State
	ChangeState(next power.State) error
}

// Domains reports how many domains are suspended
type Domains interface {
	SuspendedCount() int
}

// Timers returns the interval to program into the wake-up hardware
type Timers interface {
	SleepInterval() (time.Duration, error)
}

// Ticks is the OS tick subsystem
type Ticks interface {
	Period() time.Duration
	Compensate(n uint64)
}

// Cores reports whether the secondary CPUs are parked
type Cores interface {
	Count() int
	SecondariesIdle() bool
}

// Phase is the position of the sequencer in a sleep cycle
type Phase int

const (
	Awake Phase = iota
	Gating
	Asleep
	Waking
)

func (p Phase) String() string {
	switch p {
	case Awake:
		return "awake"
	case Gating:
		return "gating"
	case Asleep:
		return "asleep"
	case Waking:
		return "waking"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Outcome tells how an idle pass ended
type Outcome int

const (
	// Slept means the system went to sleep and woke up again
	Slept Outcome = iota
	// NotSleepy means the state machine recommended a shallower state
	NotSleepy
	// AbortVetoed means a domain was suspended
	AbortVetoed
	// AbortCoreBusy means a secondary CPU was not idling
	AbortCoreBusy
	// AbortTooShort means the next wake-up is under the minimum sleep
	AbortTooShort
)

// Outcomes returns every outcome
func Outcomes() []Outcome {
	return []Outcome{Slept, NotSleepy, AbortVetoed, AbortCoreBusy, AbortTooShort}
}

func (o Outcome) String() string {
	switch o {
	case Slept:
		return "slept"
	case NotSleepy:
		return "not_sleepy"
	case AbortVetoed:
		return "vetoed"
	case AbortCoreBusy:
		return "core_busy"
	case AbortTooShort:
		return "too_short"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes one idle pass
type Result struct {
	Outcome     Outcome
	Recommended power.State
	// Interval is the wake-up interval programmed into the board, zero when
	// no timer was armed
	Interval time.Duration
	Reason   power.WakeReason
	// ElapsedTicks is the real time spent asleep, in ticks
	ElapsedTicks uint64
	// Compensated is the number of ticks credited to the tick subsystem
	Compensated uint64
}

// Stats counts what the sequencer did since boot
type Stats struct {
	Phase            Phase
	Outcomes         map[Outcome]uint64
	Wakeups          map[power.WakeReason]uint64
	CompensatedTicks uint64
	// Discarded counts sleeps whose measured duration was rejected
	Discarded uint64
}
