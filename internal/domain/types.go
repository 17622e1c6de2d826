// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/wakeup"
)

// MaxSuspendCount is the largest suspend count a domain can hold
const MaxSuspendCount = math.MaxUint16

// IdleDomain is registered at boot and stands for "the system as a whole"
const IdleDomain = "IDLE"

// Handle refers to a registered domain. A handle outlives neither the
// domain nor a re-registration of its slot.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h was never returned by Register
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// Index returns the table index of the domain
func (h Handle) Index() int {
	return int(h.index)
}

func (h Handle) String() string {
	return fmt.Sprintf("domain-%d.%d", h.index, h.gen)
}

// Info describes a registered domain
type Info struct {
	Name         string
	Index        int
	SuspendCount uint32
	Interactive  bool
	// Timed reports whether a timed suspend is holding the domain
	Timed bool
}

// Timers is the subset of the wake-up scheduler used for timed suspends
type Timers interface {
	Create(ctx irq.Context) (wakeup.Handle, error)
	Arm(h wakeup.Handle, interval time.Duration, fn wakeup.Callback) error
	Remaining(h wakeup.Handle) (time.Duration, bool, error)
	Delete(h wakeup.Handle) error
}

var _ Timers = (*wakeup.Scheduler)(nil)

var (
	ErrInvalidHandle   = fmt.Errorf("%w: invalid domain handle", power.ErrInvalidArgument)
	ErrEmptyName       = fmt.Errorf("%w: domain name is empty", power.ErrInvalidArgument)
	ErrNameTooLong     = fmt.Errorf("%w: domain name too long", power.ErrInvalidArgument)
	ErrInvalidDuration = fmt.Errorf("%w: suspend duration must be positive", power.ErrInvalidArgument)
	ErrRegistryFull    = fmt.Errorf("%w: domain table is full", power.ErrExhausted)
	ErrSuspendOverflow = fmt.Errorf("%w: suspend count out of range", power.ErrInvariant)
	ErrNotSuspended    = fmt.Errorf("%w: domain is not suspended", power.ErrInvariant)
)
