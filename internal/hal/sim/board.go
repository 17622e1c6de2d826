// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package sim is a simulated board: a free running real-time counter, a
// sleep primitive that blocks on the wake-up timer, and external wake
// sources.
package sim

import (
	"log/slog"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/sleep"
	"k8s.io/utils/clock"
)

// DefaultCounterHz is the frequency of the simulated RTC
const DefaultCounterHz = 32768

// Board is a simulated board. It is safe for concurrent use; only one
// Sleep may be in progress at a time.
type Board struct {
	logger   *slog.Logger
	clock    clock.Clock
	hz       uint64
	wakeTick func()

	// irqs holds at most one pending external wake-up
	irqs chan power.WakeReason

	mu       sync.Mutex
	glitches []uint64

	sleeps   atomic.Uint64
	sleeping atomic.Bool
}

var _ sleep.Board = (*Board)(nil)

// NewBoard creates a simulated board
func NewBoard(applyOpts ...OptionFn) *Board {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	return &Board{
		logger:   opts.logger.With("component", "board"),
		clock:    opts.clock,
		hz:       opts.counterHz,
		wakeTick: opts.wakeTick,
		irqs:     make(chan power.WakeReason, 1),
	}
}

// CounterHz returns the frequency of the real-time counter
func (b *Board) CounterHz() uint64 {
	return b.hz
}

// Sleep blocks until the wake-up timer fires after intervalUS microseconds
// or an external interrupt is raised. With intervalUS zero only an
// interrupt wakes the board.
func (b *Board) Sleep(intervalUS uint64, onWake sleep.WakeHandler) (uint64, power.WakeReason) {
	start := b.clock.Now()
	b.sleeping.Store(true)
	defer b.sleeping.Store(false)

	var expired <-chan time.Time
	if intervalUS > 0 {
		d := time.Duration(math.MaxInt64)
		if intervalUS < uint64(math.MaxInt64/int64(time.Microsecond)) {
			d = time.Duration(intervalUS) * time.Microsecond
		}
		t := b.clock.NewTimer(d)
		defer t.Stop()
		expired = t.C()
	}

	var reason power.WakeReason
	select {
	case <-expired:
		reason = power.WakeTimer
	case reason = <-b.irqs:
	}

	elapsed := b.toUnits(b.clock.Since(start))
	if g, ok := b.nextGlitch(); ok {
		b.logger.Debug("replaying counter glitch", "measured", elapsed, "reported", g)
		elapsed = g
	}
	b.sleeps.Add(1)

	if onWake != nil {
		onWake(elapsed, reason)
	}
	if b.wakeTick != nil {
		b.wakeTick()
	}
	return elapsed, reason
}

// Interrupt raises an external wake-up. It never blocks: if an interrupt is
// already pending the new one is merged into it.
func (b *Board) Interrupt(reason power.WakeReason) {
	select {
	case b.irqs <- reason:
	default:
		b.logger.Debug("wake-up already pending", "reason", reason)
	}
}

// Glitch makes the next sleep report units instead of the measured count,
// the way a corrupted RTC read would
func (b *Board) Glitch(units uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.glitches = append(b.glitches, units)
}

func (b *Board) nextGlitch() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.glitches) == 0 {
		return 0, false
	}
	g := b.glitches[0]
	b.glitches = b.glitches[1:]
	return g, true
}

// Sleeping reports whether a Sleep is in progress
func (b *Board) Sleeping() bool {
	return b.sleeping.Load()
}

// Sleeps returns the number of completed sleeps
func (b *Board) Sleeps() uint64 {
	return b.sleeps.Load()
}

// toUnits converts d to counter units, truncating a partial unit
func (b *Board) toUnits(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(d), b.hz)
	if hi >= uint64(time.Second) {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, uint64(time.Second))
	return q
}
