// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package domain keeps the table of power domains and their suspend counts.
//
// A domain with a non-zero suspend count vetoes deep power states. The table
// has a fixed number of slots; the set of currently suspended domains is kept
// in the order the domains were suspended.
package domain

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/wakeup"
)

type domain struct {
	used        bool
	name        string
	count       uint32
	interactive bool

	// timed suspend watchdog
	watchdog  wakeup.Handle
	timedHeld bool
	timedSeq  uint64
}

// Registry owns every domain. Lock order: Registry before the wake-up
// scheduler; the scheduler never calls back into the registry while holding
// its own section.
type Registry struct {
	logger      *slog.Logger
	timers      Timers
	nameLength  int
	interactive map[string]bool
	onSuspend   func()

	mu        irq.Section
	slots     []domain
	gens      []uint32
	suspended []uint32
}

// NewRegistry creates an empty domain table. timers backs TimedSuspend.
func NewRegistry(timers Timers, applyOpts ...OptionFn) (*Registry, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	if opts.maxDomains <= 0 {
		return nil, fmt.Errorf("%w: domain table size must be positive, got %d", power.ErrInvalidArgument, opts.maxDomains)
	}
	if opts.nameLength <= 0 {
		return nil, fmt.Errorf("%w: domain name length must be positive, got %d", power.ErrInvalidArgument, opts.nameLength)
	}

	interactive := make(map[string]bool, len(opts.interactive))
	for _, name := range opts.interactive {
		interactive[name] = true
	}

	return &Registry{
		logger:      opts.logger.With("component", "domain"),
		timers:      timers,
		nameLength:  opts.nameLength,
		interactive: interactive,
		slots:       make([]domain, opts.maxDomains),
		gens:        make([]uint32, opts.maxDomains),
		suspended:   make([]uint32, 0, opts.maxDomains),
	}, nil
}

// OnSuspend sets fn to run whenever a domain goes from resumed to
// suspended. fn runs inside the registry section and must not call back into
// the registry. It is set at boot, before any domain is suspended.
func (r *Registry) OnSuspend(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSuspend = fn
}

// Register returns the domain called name, creating it if needed
func (r *Registry) Register(_ irq.Thread, name string) (Handle, error) {
	if name == "" {
		return Handle{}, ErrEmptyName
	}
	if len(name) > r.nameLength {
		return Handle{}, fmt.Errorf("%w: %q is %d bytes, limit is %d", ErrNameTooLong, name, len(name), r.nameLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	free := -1
	for i := range r.slots {
		d := &r.slots[i]
		if !d.used {
			if free < 0 {
				free = i
			}
			continue
		}
		if d.name == name {
			return Handle{index: uint32(i), gen: r.gens[i]}, nil
		}
	}
	if free < 0 {
		r.logger.Warn("domain table full", "domain", name, "max", len(r.slots))
		return Handle{}, ErrRegistryFull
	}

	r.gens[free]++
	if r.gens[free] == 0 {
		r.gens[free] = 1
	}
	r.slots[free] = domain{
		used:        true,
		name:        name,
		interactive: r.interactive[name],
	}
	r.logger.Debug("domain registered", "domain", name, "index", free)
	return Handle{index: uint32(free), gen: r.gens[free]}, nil
}

// Unregister removes the domain. Its handle is invalid afterwards.
func (r *Registry) Unregister(_ irq.Thread, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil {
		return err
	}

	if d.watchdog != (wakeup.Handle{}) {
		if err := r.timers.Delete(d.watchdog); err != nil {
			r.logger.Warn("failed to delete domain watchdog", "domain", d.name, "error", err)
		}
	}
	if d.count > 0 {
		r.unlinkSuspended(h.index)
		r.logger.Info("unregistered a suspended domain", "domain", d.name, "count", d.count)
	}

	r.logger.Debug("domain unregistered", "domain", d.name, "index", h.index)
	r.slots[h.index] = domain{}
	r.gens[h.index]++
	return nil
}

// Suspend takes one suspend reference on the domain. Safe from interrupt
// context.
func (r *Registry) Suspend(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil {
		return err
	}
	return r.hold(d, h.index)
}

// Resume drops one suspend reference. Resuming a domain that is not
// suspended is a caller bug: it is reported and the count stays at zero.
// Safe from interrupt context.
func (r *Registry) Resume(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil {
		return err
	}
	return r.release(d, h.index)
}

// TimedSuspend suspends the domain for d, after which the watchdog resumes
// it. While a timed suspend is pending, a new one only extends it: the domain
// holds a single reference for the longer of the two. The watchdog timer is
// created and armed with the registry section held, which the lock order
// allows; its expiry runs outside the scheduler section.
func (r *Registry) TimedSuspend(ctx irq.Context, h Handle, dur time.Duration) error {
	if dur <= 0 {
		return ErrInvalidDuration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil {
		return err
	}

	if d.watchdog == (wakeup.Handle{}) {
		wd, err := r.timers.Create(ctx)
		if err != nil {
			return fmt.Errorf("failed to create watchdog for domain %s: %w", d.name, err)
		}
		d.watchdog = wd
	}

	if d.timedHeld {
		remaining, armed, err := r.timers.Remaining(d.watchdog)
		if err == nil && armed && remaining >= dur {
			return nil
		}
	} else {
		if err := r.hold(d, h.index); err != nil {
			return err
		}
		d.timedHeld = true
	}

	d.timedSeq++
	seq := d.timedSeq
	if err := r.timers.Arm(d.watchdog, dur, func() { r.expireTimed(h, seq) }); err != nil {
		d.timedHeld = false
		_ = r.release(d, h.index)
		return fmt.Errorf("failed to arm watchdog for domain %s: %w", d.name, err)
	}
	return nil
}

func (r *Registry) expireTimed(h Handle, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil || !d.timedHeld || d.timedSeq != seq {
		// unregistered or superseded by a later timed suspend
		return
	}
	d.timedHeld = false
	if d.count == 0 {
		r.logger.Error("timed suspend expired on a resumed domain", "domain", d.name)
		return
	}
	_ = r.release(d, h.index)
}

// hold increments the suspend count. Must be called inside the section.
func (r *Registry) hold(d *domain, idx uint32) error {
	if d.count >= MaxSuspendCount {
		r.logger.Error("suspend count overflow", "domain", d.name, "count", d.count)
		return ErrSuspendOverflow
	}
	d.count++
	if d.count == 1 {
		r.suspended = append(r.suspended, idx)
		if r.onSuspend != nil {
			r.onSuspend()
		}
	}
	return nil
}

// release decrements the suspend count. Must be called inside the section.
func (r *Registry) release(d *domain, idx uint32) error {
	if d.count == 0 {
		r.logger.Error("resume of a domain that is not suspended", "domain", d.name)
		return ErrNotSuspended
	}
	d.count--
	if d.count == 0 {
		r.unlinkSuspended(idx)
	}
	return nil
}

func (r *Registry) unlinkSuspended(idx uint32) {
	for i, s := range r.suspended {
		if s == idx {
			r.suspended = append(r.suspended[:i], r.suspended[i+1:]...)
			return
		}
	}
}

// lookup returns the live domain for h. Must be called inside the section.
func (r *Registry) lookup(h Handle) (*domain, error) {
	if h.IsZero() || int(h.index) >= len(r.slots) || r.gens[h.index] != h.gen {
		return nil, ErrInvalidHandle
	}
	d := &r.slots[h.index]
	if !d.used {
		return nil, ErrInvalidHandle
	}
	return d, nil
}

// Find looks a domain up by name. Safe from interrupt context.
func (r *Registry) Find(name string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if r.slots[i].used && r.slots[i].name == name {
			return Handle{index: uint32(i), gen: r.gens[i]}, true
		}
	}
	return Handle{}, false
}

// Name returns the name of the domain
func (r *Registry) Name(h Handle) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil {
		return "", err
	}
	return d.name, nil
}

// StayCount returns the suspend count of the domain
func (r *Registry) StayCount(h Handle) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil {
		return 0, err
	}
	return d.count, nil
}

// SuspendedCount returns the number of domains with a non-zero count
func (r *Registry) SuspendedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.suspended)
}

// InteractiveSuspended reports whether an interactive domain is suspended
func (r *Registry) InteractiveSuspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interactiveSuspended()
}

func (r *Registry) interactiveSuspended() bool {
	for _, idx := range r.suspended {
		if r.slots[idx].interactive {
			return true
		}
	}
	return false
}

// Veto returns the deepest state the suspended domains allow
func (r *Registry) Veto() power.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.interactiveSuspended():
		return power.Normal
	case len(r.suspended) > 0:
		return power.Standby
	default:
		return power.Sleep
	}
}

// Suspended returns the names of the suspended domains in suspension order
func (r *Registry) Suspended() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.suspended))
	for _, idx := range r.suspended {
		names = append(names, r.slots[idx].name)
	}
	return names
}

// Domains returns every registered domain ordered by index
func (r *Registry) Domains() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.slots))
	for i := range r.slots {
		d := &r.slots[i]
		if !d.used {
			continue
		}
		infos = append(infos, Info{
			Name:         d.name,
			Index:        i,
			SuspendCount: d.count,
			Interactive:  d.interactive,
			Timed:        d.timedHeld,
		})
	}
	return infos
}

// Len returns the number of registered domains
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].used {
			n++
		}
	}
	return n
}
