// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package smp tracks which CPUs are parked in their idle task. The sleep
// sequencer only puts the system to sleep while every secondary CPU idles.
package smp

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/sustainable-computing-io/pmcore/internal/power"
)

// Primary is the CPU that runs the sleep sequencer
const Primary = 0

// core is padded to a cache line so that CPUs flipping their own flag do not
// contend with each other
type core struct {
	_    cpu.CacheLinePad
	idle atomic.Bool
	_    cpu.CacheLinePad
}

// Cores is the set of CPUs of the system
type Cores struct {
	cores []core
}

// NewCores creates n CPUs, all of them busy
func NewCores(n int) (*Cores, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: need at least one CPU, got %d", power.ErrInvalidArgument, n)
	}
	return &Cores{cores: make([]core, n)}, nil
}

// Count returns the number of CPUs
func (c *Cores) Count() int {
	return len(c.cores)
}

// SetIdle records whether cpu is parked in its idle task
func (c *Cores) SetIdle(cpu int, idle bool) error {
	if cpu < 0 || cpu >= len(c.cores) {
		return fmt.Errorf("%w: no such CPU %d", power.ErrInvalidArgument, cpu)
	}
	c.cores[cpu].idle.Store(idle)
	return nil
}

// Idle reports whether cpu is parked in its idle task
func (c *Cores) Idle(cpu int) bool {
	if cpu < 0 || cpu >= len(c.cores) {
		return false
	}
	return c.cores[cpu].idle.Load()
}

// SecondariesIdle reports whether every CPU but the primary idles. It is
// trivially true on a single-core system.
func (c *Cores) SecondariesIdle() bool {
	for i := range c.cores {
		if i == Primary {
			continue
		}
		if !c.cores[i].idle.Load() {
			return false
		}
	}
	return true
}

// Busy returns the secondary CPUs that are not idling
func (c *Cores) Busy() []int {
	var busy []int
	for i := range c.cores {
		if i != Primary && !c.cores[i].idle.Load() {
			busy = append(busy, i)
		}
	}
	return busy
}
