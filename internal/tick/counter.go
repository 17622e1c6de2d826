// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package tick is the OS tick subsystem seen by the PM core: a monotonic tick
// counter advanced by the periodic tick interrupt and, after a sleep, by a
// single compensation call.
package tick

import (
	"fmt"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
)

// AdvanceFn is called with the number of ticks the counter just moved by
type AdvanceFn func(elapsed uint64)

// Counter counts OS ticks
type Counter struct {
	period time.Duration

	mu          irq.Section
	now         uint64
	compensated uint64
	hooks       []AdvanceFn
}

// NewCounter returns a counter whose ticks are period long
func NewCounter(period time.Duration) (*Counter, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: tick period must be positive, got %s", power.ErrInvalidArgument, period)
	}
	return &Counter{period: period}, nil
}

// Period returns the length of one tick
func (c *Counter) Period() time.Duration {
	return c.period
}

// Now returns the number of ticks since boot
func (c *Counter) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Compensated returns the total number of ticks credited through Compensate
func (c *Counter) Compensated() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compensated
}

// OnAdvance subscribes fn to every advance of the counter. Subscriptions are
// made at boot, before the tick interrupt is enabled.
func (c *Counter) OnAdvance(fn AdvanceFn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Tick is the periodic tick interrupt: it advances the counter by one
func (c *Counter) Tick() {
	c.advance(1, false)
}

// Compensate credits n ticks that were not generated while the tick
// interrupt was stopped. It is the only entry point for missed ticks.
func (c *Counter) Compensate(n uint64) {
	if n == 0 {
		return
	}
	c.advance(n, true)
}

func (c *Counter) advance(n uint64, compensation bool) {
	c.mu.Lock()
	c.now += n
	if compensation {
		c.compensated += n
	}
	hooks := c.hooks
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(n)
	}
}

// Ticks converts d to ticks, rounding a partial tick up
func (c *Counter) Ticks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	t := uint64(d / c.period)
	if d%c.period != 0 {
		t++
	}
	return t
}

// Duration converts t ticks to wall time
func (c *Counter) Duration(t uint64) time.Duration {
	return time.Duration(t) * c.period
}
