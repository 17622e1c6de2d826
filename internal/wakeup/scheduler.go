// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package wakeup schedules the deadlines that must wake the system from a
// low-power state.
//
// Timers live in an arena of slots addressed by index. The first poolSize
// slots are allocated at boot and recycled through a free list; further slots
// are allocated on demand from task context only. Armed timers are kept in a
// list of slot indices sorted by absolute deadline (in ticks).
package wakeup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
)

type timer struct {
	origin   Origin
	status   Status
	deadline uint64
	interval uint64
	periodic bool
	fn       Callback
}

type firing struct {
	h  Handle
	fn Callback
}

// Scheduler owns the wake-up timers
type Scheduler struct {
	logger   *slog.Logger
	period   time.Duration
	poolSize int
	minSleep time.Duration

	mu     irq.Section
	now    uint64
	slots  []*timer
	gens   []uint32
	free   []uint32 // free pool slots, used as a stack
	holes  []uint32 // released dynamic slots
	active []uint32 // sorted by deadline, FIFO among equal deadlines

	// expiry serializes Advance and owns the fired scratch buffer
	expiry irq.Section
	fired  []firing

	expired uint64

	onEarlier func()
}

// NewScheduler creates a scheduler counting time in ticks of the given period
func NewScheduler(period time.Duration, applyOpts ...OptionFn) (*Scheduler, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	if period <= 0 {
		return nil, fmt.Errorf("%w: tick period must be positive, got %s", power.ErrInvalidArgument, period)
	}
	if opts.poolSize < 0 {
		return nil, fmt.Errorf("%w: negative timer pool size %d", power.ErrInvalidArgument, opts.poolSize)
	}

	s := &Scheduler{
		logger:   opts.logger.With("component", "wakeup"),
		period:   period,
		poolSize: opts.poolSize,
		minSleep: opts.minSleep,
		slots:    make([]*timer, opts.poolSize),
		gens:     make([]uint32, opts.poolSize),
		free:     make([]uint32, 0, opts.poolSize),
		active:   make([]uint32, 0, opts.poolSize),
		fired:    make([]firing, 0, opts.poolSize),
	}

	// push in reverse so that the lowest slot is handed out first
	for i := opts.poolSize - 1; i >= 0; i-- {
		s.slots[i] = &timer{origin: Pool, status: Free}
		s.gens[i] = 1
		s.free = append(s.free, uint32(i))
	}
	return s, nil
}

// Create takes a timer from the pool. When the pool is empty a timer is
// allocated, but only for task context: an interrupt handler gets
// ErrPoolExhausted instead.
func (s *Scheduler) Create(ctx irq.Context) (Handle, error) {
	s.mu.Lock()
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[idx].status = Inactive
		h := Handle{slot: idx, gen: s.gens[idx]}
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	if _, ok := ctx.(irq.Thread); !ok {
		s.logger.Warn("wake-up timer pool exhausted in interrupt context", "pool", s.poolSize)
		return Handle{}, ErrPoolExhausted
	}
	return s.createDynamic(), nil
}

func (s *Scheduler) createDynamic() Handle {
	t := &timer{origin: Dynamic, status: Inactive}

	s.mu.Lock()
	defer s.mu.Unlock()

	var idx uint32
	if n := len(s.holes); n > 0 {
		idx = s.holes[n-1]
		s.holes = s.holes[:n-1]
		s.slots[idx] = t
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, t)
		s.gens = append(s.gens, 1)
	}

	// keep room for every slot so that arming never allocates
	if cap(s.active) < len(s.slots) {
		grown := make([]uint32, len(s.active), len(s.slots)*2)
		copy(grown, s.active)
		s.active = grown
	}

	s.logger.Debug("allocated dynamic wake-up timer", "slot", idx, "pool", s.poolSize)
	return Handle{slot: idx, gen: s.gens[idx]}
}

// lookup returns the live timer for h. Must be called inside the section.
func (s *Scheduler) lookup(h Handle) (*timer, error) {
	if h.IsZero() || int(h.slot) >= len(s.slots) || s.gens[h.slot] != h.gen {
		return nil, ErrInvalidHandle
	}
	t := s.slots[h.slot]
	if t == nil || t.status == Free {
		return nil, ErrInvalidHandle
	}
	return t, nil
}

// Arm schedules fn to run once after interval. Arming an armed timer moves
// its deadline.
func (s *Scheduler) Arm(h Handle, interval time.Duration, fn Callback) error {
	return s.arm(h, interval, fn, false)
}

// ArmPeriodic schedules fn to run every interval until the timer is
// cancelled
func (s *Scheduler) ArmPeriodic(h Handle, interval time.Duration, fn Callback) error {
	return s.arm(h, interval, fn, true)
}

func (s *Scheduler) arm(h Handle, interval time.Duration, fn Callback, periodic bool) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if fn == nil {
		return ErrNilCallback
	}
	ticks := s.ticks(interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(h)
	if err != nil {
		return err
	}
	if t.status == Active {
		s.unlink(h.slot)
	}
	t.deadline = s.now + ticks
	t.interval = ticks
	t.periodic = periodic
	t.fn = fn
	t.status = Active
	if s.link(h.slot) == 0 && s.onEarlier != nil {
		s.onEarlier()
	}
	return nil
}

// OnEarlierDeadline sets fn to run when Arm puts a timer at the head of the
// list, so a sleep programmed for a later deadline can be cut short. fn runs
// inside the scheduler section and must not call back into the scheduler.
// It is set at boot.
func (s *Scheduler) OnEarlierDeadline(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEarlier = fn
}

// Cancel disarms a timer. Cancelling a timer that is not armed, including
// one that already expired, does nothing.
func (s *Scheduler) Cancel(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(h)
	if err != nil {
		return err
	}
	switch t.status {
	case Active:
		s.unlink(h.slot)
		t.status = Inactive
	case Running:
		// stops a periodic timer from being re-armed after its callback
		t.status = Inactive
	}
	return nil
}

// Delete cancels the timer and releases its storage. h is stale afterwards.
func (s *Scheduler) Delete(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(h)
	if err != nil {
		return err
	}
	if t.status == Active {
		s.unlink(h.slot)
	}

	s.gens[h.slot]++
	if s.gens[h.slot] == 0 {
		s.gens[h.slot] = 1
	}

	switch t.origin {
	case Pool:
		*t = timer{origin: Pool, status: Free}
		s.free = append(s.free, h.slot)
	case Dynamic:
		t.status = Free
		t.fn = nil
		s.slots[h.slot] = nil
		s.holes = append(s.holes, h.slot)
	}
	return nil
}

// Status returns the status of the timer
func (s *Scheduler) Status(h Handle) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(h)
	if err != nil {
		return Free, err
	}
	return t.status, nil
}

// Remaining returns the time left until an armed timer expires
func (s *Scheduler) Remaining(h Handle) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(h)
	if err != nil {
		return 0, false, err
	}
	if t.status != Active {
		return 0, false, nil
	}
	return s.duration(s.remaining(t)), true, nil
}

// NextDeadline returns the time left until the earliest armed timer, or
// false when nothing is armed
func (s *Scheduler) NextDeadline() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) == 0 {
		return 0, false
	}
	return s.duration(s.remaining(s.slots[s.active[0]])), true
}

// SleepInterval returns how long the hardware may sleep before the next
// wake-up timer must fire. It returns NoDeadline when no timer is armed and
// ErrSleepTooShort when the next deadline is under the minimum sleep.
func (s *Scheduler) SleepInterval() (time.Duration, error) {
	d, ok := s.NextDeadline()
	if !ok {
		return NoDeadline, nil
	}
	if d < s.minSleep || d == 0 {
		return d, ErrSleepTooShort
	}
	return d, nil
}

// Advance moves the scheduler clock forward by elapsed ticks and runs, in
// deadline order, the callback of every timer whose deadline was reached.
// Periodic timers are re-armed on their original cadence; periods that were
// slept through entirely are skipped rather than replayed.
func (s *Scheduler) Advance(elapsed uint64) {
	s.expiry.Lock()
	defer s.expiry.Unlock()

	s.mu.Lock()
	s.now += elapsed
	s.fired = s.fired[:0]
	for len(s.active) > 0 {
		idx := s.active[0]
		t := s.slots[idx]
		if t.deadline > s.now {
			break
		}
		s.active = s.active[:copy(s.active, s.active[1:])]
		t.status = Running
		s.fired = append(s.fired, firing{h: Handle{slot: idx, gen: s.gens[idx]}, fn: t.fn})
	}
	s.expired += uint64(len(s.fired))
	s.mu.Unlock()

	for _, f := range s.fired {
		f.fn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fired {
		t, err := s.lookup(f.h)
		if err != nil || t.status != Running {
			// deleted, cancelled or re-armed by its callback
			continue
		}
		if !t.periodic {
			t.status = Inactive
			continue
		}
		t.deadline += t.interval
		if t.deadline <= s.now {
			missed := (s.now-t.deadline)/t.interval + 1
			t.deadline += missed * t.interval
		}
		t.status = Active
		s.link(f.h.slot)
	}
}

// Now returns the scheduler clock in ticks
func (s *Scheduler) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Len returns the number of armed timers
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Expired returns the number of expirations since boot
func (s *Scheduler) Expired() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// PoolFree returns the number of timers left in the static pool
func (s *Scheduler) PoolFree() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}

// Pending returns the armed timers in expiry order
func (s *Scheduler) Pending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.active))
	for _, idx := range s.active {
		t := s.slots[idx]
		entries = append(entries, Entry{
			Handle:   Handle{slot: idx, gen: s.gens[idx]},
			Deadline: t.deadline,
			Periodic: t.periodic,
			Origin:   t.origin,
		})
	}
	return entries
}

// link inserts slot idx after every timer with an equal or earlier deadline
// link inserts the timer in deadline order and returns its position
func (s *Scheduler) link(idx uint32) int {
	deadline := s.slots[idx].deadline
	pos := len(s.active)
	for i, other := range s.active {
		if s.slots[other].deadline > deadline {
			pos = i
			break
		}
	}
	s.active = append(s.active, 0)
	copy(s.active[pos+1:], s.active[pos:])
	s.active[pos] = idx
	return pos
}

func (s *Scheduler) unlink(idx uint32) {
	for i, other := range s.active {
		if other == idx {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) remaining(t *timer) uint64 {
	if t.deadline <= s.now {
		return 0
	}
	return t.deadline - s.now
}

func (s *Scheduler) ticks(d time.Duration) uint64 {
	t := uint64(d / s.period)
	if d%s.period != 0 {
		t++
	}
	return t
}

func (s *Scheduler) duration(ticks uint64) time.Duration {
	return time.Duration(ticks) * s.period
}
