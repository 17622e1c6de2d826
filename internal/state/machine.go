// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package state holds the global power state and the policy that recommends
// the next one.
package state

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
)

// Machine is the global PM state machine. Lock order: Machine before the
// Vetoer.
type Machine struct {
	logger    *slog.Logger
	ticks     TickSource
	veto      Vetoer
	timeSlice uint64
	activity  Activity

	// callbacks is replaced on every registration so that a state change
	// can walk it without copying
	callbacks atomic.Pointer[[]Callback]
	cbMu      irq.Section

	// changing serializes ChangeState so notifications never interleave
	changing irq.Section

	mu           irq.Section
	current      power.State
	recommended  power.State
	enteredAt    uint64
	sliceStart   uint64
	accum        uint32
	average      uint32
	lastActivity uint64
	timeIn       [power.NumStates]uint64
	transitions  [power.NumStates]uint64
	prepareFails uint64
}

// NewMachine creates the state machine in its initial state
func NewMachine(ticks TickSource, veto Vetoer, applyOpts ...OptionFn) (*Machine, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	if opts.timeSlice == 0 {
		return nil, fmt.Errorf("%w: time slice must be at least one tick", power.ErrInvalidArgument)
	}
	if !opts.initial.Valid() {
		return nil, ErrInvalidState
	}

	now := ticks.Now()
	m := &Machine{
		logger:       opts.logger.With("component", "state"),
		ticks:        ticks,
		veto:         veto,
		timeSlice:    opts.timeSlice,
		activity:     opts.activity,
		current:      opts.initial,
		recommended:  opts.initial,
		enteredAt:    now,
		sliceStart:   now,
		lastActivity: now,
	}
	m.transitions[opts.initial] = 1
	m.callbacks.Store(&[]Callback{})
	return m, nil
}

// Current returns the committed state
func (m *Machine) Current() power.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Recommended returns the last recommendation made by CheckState
func (m *Machine) Recommended() power.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recommended
}

// CheckState recommends a state from the time elapsed since the last
// reported activity and from the suspended domains. It changes nothing but
// the cached recommendation.
func (m *Machine) CheckState() power.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.ticks.Now()
	m.foldSlices(now)

	var rec power.State
	if now-m.lastActivity >= m.timeSlice {
		rec = power.Sleep
	} else {
		level := max(m.average, m.accum)
		switch {
		case level >= m.activity.ForegroundThreshold:
			rec = power.Foreground
		case level >= m.activity.NormalThreshold:
			rec = power.Normal
		default:
			rec = power.Idle
		}
	}

	rec = power.Shallowest(rec, m.veto.Veto())
	m.recommended = rec
	return rec
}

// RecordActivity reports driver activity with a priority between 0 and
// MaxPriority. Safe from interrupt context.
func (m *Machine) RecordActivity(priority int) error {
	if priority < 0 || priority > MaxPriority {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.ticks.Now()
	m.foldSlices(now)
	m.lastActivity = now
	if sum := m.accum + uint32(priority); sum >= m.accum {
		m.accum = sum
	}
	return nil
}

// foldSlices folds the accumulator of every completed slice into the moving
// average. Must be called inside the section.
func (m *Machine) foldSlices(now uint64) {
	elapsed := now - m.sliceStart
	if elapsed < m.timeSlice {
		return
	}
	slices := elapsed / m.timeSlice
	m.sliceStart += slices * m.timeSlice

	m.average = m.fold(m.average, m.accum)
	m.accum = 0
	for i := uint64(1); i < slices && m.average > 0; i++ {
		m.average = m.fold(m.average, 0)
	}
}

func (m *Machine) fold(avg, sample uint32) uint32 {
	w := uint64(m.activity.Memory)
	return uint32((uint64(avg)*w + uint64(sample)) / (w + 1))
}

// ChangeState commits next as the global state. Committing the current state
// does nothing. A state deeper than the suspended domains allow is refused
// with ErrVetoed. Prepare callbacks run in registration order before the
// commit, Notify callbacks after it.
func (m *Machine) ChangeState(next power.State) error {
	if !next.Valid() {
		return ErrInvalidState
	}

	m.changing.Lock()
	defer m.changing.Unlock()

	m.mu.Lock()
	prev := m.current
	m.mu.Unlock()
	if next == prev {
		return nil
	}

	if limit := m.veto.Veto(); next.DeeperThan(limit) {
		return fmt.Errorf("%w: %s requested, %s allowed", ErrVetoed, next, limit)
	}

	callbacks := *m.callbacks.Load()
	failed := 0
	for _, cb := range callbacks {
		if cb.Prepare == nil {
			continue
		}
		if err := cb.Prepare(next); err != nil {
			failed++
			m.logger.Warn("prepare callback failed", "callback", cb.Name, "from", prev, "to", next, "error", err)
		}
	}

	m.mu.Lock()
	m.prepareFails += uint64(failed)
	// a domain may have been suspended while the callbacks ran
	if limit := m.veto.Veto(); next.DeeperThan(limit) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s requested, %s allowed", ErrVetoed, next, limit)
	}
	now := m.ticks.Now()
	m.timeIn[prev] += now - m.enteredAt
	m.enteredAt = now
	m.current = next
	m.transitions[next]++
	m.mu.Unlock()

	for _, cb := range callbacks {
		if cb.Notify != nil {
			cb.Notify(next)
		}
	}

	m.logger.Debug("state changed", "from", prev, "to", next)
	return nil
}

// Register adds a callback after the ones already registered
func (m *Machine) Register(cb Callback) error {
	if cb.Name == "" {
		return ErrInvalidCallback
	}

	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	old := *m.callbacks.Load()
	for _, c := range old {
		if c.Name == cb.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateCallback, cb.Name)
		}
	}
	updated := make([]Callback, 0, len(old)+1)
	updated = append(updated, old...)
	updated = append(updated, cb)
	m.callbacks.Store(&updated)
	return nil
}

// Unregister removes the named callback
func (m *Machine) Unregister(name string) error {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	old := *m.callbacks.Load()
	for i, c := range old {
		if c.Name != name {
			continue
		}
		updated := make([]Callback, 0, len(old)-1)
		updated = append(updated, old[:i]...)
		updated = append(updated, old[i+1:]...)
		m.callbacks.Store(&updated)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownCallback, name)
}

// Stats returns the bookkeeping of the state machine
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Current:         m.current,
		Recommended:     m.recommended,
		Ticks:           m.timeIn,
		Transitions:     m.transitions,
		PrepareFailures: m.prepareFails,
		Activity:        max(m.average, m.accum),
	}
	s.Ticks[m.current] += m.ticks.Now() - m.enteredAt
	return s
}
