// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package sleep drives the idle loop: it decides whether the system may
// sleep, programs the wake-up hardware, sleeps, and on wake credits the OS
// tick counter with the time that passed.
package sleep

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/wakeup"
)

const maxCompensationTime = 24 * time.Hour

// pending is the sleep being woken from. It is reported by the wake path
// and consumed exactly once by the compensation path.
type pending struct {
	seq      uint64
	reported bool
	applied  bool
	ticks    uint64
	reason   power.WakeReason
}

// Sequencer runs the sleep cycle. Idle must be called from the idle task
// only; the wake handler it hands to the board may run concurrently.
type Sequencer struct {
	logger  *slog.Logger
	board   Board
	machine StateMachine
	domains Domains
	timers  Timers
	ticks   Ticks
	cores   Cores
	irq     Interrupter

	// ticks = ceil(units * 1e9 / denom)
	denom           uint64
	maxCompensation uint64
	wakeTickCredit  uint64
	wakeState       power.State

	mu        irq.Section
	phase     Phase
	seq       uint64
	pending   pending
	kicked    bool
	outcomes  [AbortTooShort + 1]uint64
	wakeups   map[power.WakeReason]uint64
	credited  uint64
	discarded uint64
}

// NewSequencer wires the sequencer to the other PM components
func NewSequencer(board Board, machine StateMachine, domains Domains, timers Timers, ticks Ticks, applyOpts ...OptionFn) (*Sequencer, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	hz := board.CounterHz()
	if hz == 0 {
		return nil, fmt.Errorf("%w: board counter frequency is zero", power.ErrInvalidArgument)
	}
	period := ticks.Period()
	if period <= 0 {
		return nil, fmt.Errorf("%w: tick period must be positive", power.ErrInvalidArgument)
	}
	hi, denom := bits.Mul64(hz, uint64(period.Nanoseconds()))
	if hi != 0 {
		return nil, fmt.Errorf("%w: counter frequency %d Hz too high for tick period %s", power.ErrInvalidArgument, hz, period)
	}
	if !opts.wakeState.Valid() || opts.wakeState == power.Sleep {
		return nil, fmt.Errorf("%w: wake state must be an awake state, got %s", power.ErrInvalidArgument, opts.wakeState)
	}

	maxComp := opts.maxCompensation
	if maxComp == 0 {
		maxComp = uint64(maxCompensationTime / period)
	}

	wakeups := make(map[power.WakeReason]uint64, len(power.WakeReasons()))
	for _, r := range power.WakeReasons() {
		wakeups[r] = 0
	}

	return &Sequencer{
		logger:          opts.logger.With("component", "sleep"),
		board:           board,
		machine:         machine,
		domains:         domains,
		timers:          timers,
		ticks:           ticks,
		cores:           opts.cores,
		irq:             opts.interrupter,
		denom:           denom,
		maxCompensation: maxComp,
		wakeTickCredit:  opts.wakeTickCredit,
		wakeState:       opts.wakeState,
		wakeups:         wakeups,
	}, nil
}

// Idle runs one pass of the idle loop
func (s *Sequencer) Idle() Result {
	rec := s.machine.CheckState()
	if rec != power.Sleep {
		// follow the recommendation without sleeping
		if err := s.machine.ChangeState(rec); err != nil {
			s.logger.Debug("idle state change refused", "state", rec, "error", err)
		}
		return s.finish(Result{Outcome: NotSleepy, Recommended: rec})
	}

	if s.cores != nil && s.cores.Count() > 1 {
		s.setPhase(Gating)
		if !s.cores.SecondariesIdle() {
			s.logger.Debug("secondary CPU busy, not sleeping")
			return s.finish(Result{Outcome: AbortCoreBusy, Recommended: rec})
		}
	}

	// From here on a Kick ends the sleep. The veto and the deadline are read
	// after the phase change so that a Suspend or an Arm racing with the
	// sleep entry is either seen below or interrupts the board.
	seq := s.enter()

	if n := s.domains.SuspendedCount(); n > 0 {
		return s.finish(Result{Outcome: AbortVetoed, Recommended: rec})
	}

	interval, err := s.timers.SleepInterval()
	if errors.Is(err, wakeup.ErrSleepTooShort) {
		return s.finish(Result{Outcome: AbortTooShort, Recommended: rec})
	}
	if interval == wakeup.NoDeadline {
		interval = 0
	}

	if err := s.machine.ChangeState(power.Sleep); err != nil {
		s.logger.Debug("sleep refused", "error", err)
		return s.finish(Result{Outcome: AbortVetoed, Recommended: rec})
	}

	elapsed, reason := s.board.Sleep(microseconds(interval), func(elapsed uint64, reason power.WakeReason) {
		s.wake(seq, elapsed, reason)
	})
	s.wake(seq, elapsed, reason)

	s.setPhase(Waking)
	total, credited, reason := s.compensate(seq)

	if err := s.machine.ChangeState(s.wakeState); err != nil {
		s.logger.Error("failed to leave sleep", "state", s.wakeState, "error", err)
	}

	return s.finish(Result{
		Outcome:      Slept,
		Recommended:  rec,
		Interval:     interval,
		Reason:       reason,
		ElapsedTicks: total,
		Compensated:  credited,
	})
}

func (s *Sequencer) enter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.pending = pending{seq: s.seq}
	s.kicked = false
	s.phase = Asleep
	return s.seq
}

// Kick ends the sleep being entered or in progress, at most once per sleep.
// It does nothing while awake. Safe from interrupt context. A kick that
// lands while the board is already waking on its own ends the next sleep
// early; that sleep is compensated like any other.
func (s *Sequencer) Kick(reason power.WakeReason) {
	if s.irq == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Asleep || s.kicked {
		return
	}
	s.kicked = true
	s.irq.Interrupt(reason)
}

// wake records the sleep measured by the board. Only the first report of a
// given sleep counts.
func (s *Sequencer) wake(seq, elapsed uint64, reason power.WakeReason) {
	ticks, ok := s.toTicks(elapsed)
	if !ok || ticks > s.maxCompensation {
		s.logger.Error("discarding implausible sleep duration",
			"units", elapsed, "ticks", ticks, "max", s.maxCompensation)
		ticks = 0
		ok = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending.seq != seq || s.pending.reported {
		return
	}
	s.pending.reported = true
	s.pending.ticks = ticks
	s.pending.reason = reason
	if !ok {
		s.discarded++
	}
}

// compensate credits the tick subsystem for the sleep seq, at most once
func (s *Sequencer) compensate(seq uint64) (total, credited uint64, reason power.WakeReason) {
	s.mu.Lock()
	p := &s.pending
	if p.seq != seq || !p.reported || p.applied {
		s.mu.Unlock()
		return 0, 0, power.WakeUnknown
	}
	p.applied = true
	total, reason = p.ticks, p.reason
	if total > s.wakeTickCredit {
		credited = total - s.wakeTickCredit
	}
	s.credited += credited
	s.wakeups[reason]++
	s.mu.Unlock()

	s.ticks.Compensate(credited)
	s.logger.Debug("woke up", "reason", reason, "ticks", total, "compensated", credited)
	return total, credited, reason
}

// toTicks converts real-time counter units to ticks, rounding a partial tick
// up. It fails when the product overflows.
func (s *Sequencer) toTicks(units uint64) (uint64, bool) {
	hi, lo := bits.Mul64(units, uint64(time.Second))
	if hi >= s.denom {
		return 0, false
	}
	q, r := bits.Div64(hi, lo, s.denom)
	if r != 0 {
		q++
	}
	return q, true
}

func (s *Sequencer) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Sequencer) finish(r Result) Result {
	s.mu.Lock()
	s.phase = Awake
	s.outcomes[r.Outcome]++
	s.mu.Unlock()
	return r
}

// Phase returns where the sequencer is in the sleep cycle
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Stats returns the sequencer counters
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Phase:            s.phase,
		Outcomes:         make(map[Outcome]uint64, len(s.outcomes)),
		Wakeups:          make(map[power.WakeReason]uint64, len(s.wakeups)),
		CompensatedTicks: s.credited,
		Discarded:        s.discarded,
	}
	for o, n := range s.outcomes {
		st.Outcomes[Outcome(o)] = n
	}
	for r, n := range s.wakeups {
		st.Wakeups[r] = n
	}
	return st
}

func microseconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	us := uint64(d / time.Microsecond)
	if d%time.Microsecond != 0 {
		us++
	}
	return us
}
