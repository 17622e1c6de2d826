// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pm

import (
	"maps"
	"slices"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/domain"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/sleep"
	"github.com/sustainable-computing-io/pmcore/internal/state"
	"github.com/sustainable-computing-io/pmcore/internal/wakeup"
)

// DataProvider is what the presentation layers read the PM core through
type DataProvider interface {
	// Snapshot returns a consistent copy of the PM bookkeeping
	Snapshot() (*Snapshot, error)

	// DataChannel signals when the power state changed
	DataChannel() <-chan struct{}

	// TickPeriod returns the length of one OS tick
	TickPeriod() time.Duration
}

// Timers summarizes the wake-up timer list
type Timers struct {
	Armed    int
	Expired  uint64
	PoolFree int
	// Next is the time left until the earliest armed timer, valid when
	// HasNext is set
	Next    time.Duration
	HasNext bool
	Pending []wakeup.Entry
}

// Snapshot is a point in time copy of the PM bookkeeping
type Snapshot struct {
	Timestamp time.Time

	// Tick is the OS tick count; CompensatedTicks the part credited after
	// sleeps
	Tick             uint64
	CompensatedTicks uint64

	State     state.Stats
	Domains   []domain.Info
	Suspended []string
	Timers    Timers
	Sleep     sleep.Stats
	BusyCores []int
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Domains:   []domain.Info{},
		Suspended: []string{},
	}
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Domains = slices.Clone(s.Domains)
	c.Suspended = slices.Clone(s.Suspended)
	c.BusyCores = slices.Clone(s.BusyCores)
	c.Timers.Pending = slices.Clone(s.Timers.Pending)
	c.Sleep.Outcomes = maps.Clone(s.Sleep.Outcomes)
	c.Sleep.Wakeups = maps.Clone(s.Sleep.Wakeups)
	return &c
}

// Current returns the committed power state
func (s *Snapshot) Current() power.State {
	return s.State.Current
}
