// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package pm assembles the power management core of one board: the domain
// registry, the state machine, the wake-up timers, the tick counter and the
// sleep sequencer. It also runs the idle loop as a service.
package pm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/pmcore/config"
	"github.com/sustainable-computing-io/pmcore/internal/domain"
	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/service"
	"github.com/sustainable-computing-io/pmcore/internal/sleep"
	"github.com/sustainable-computing-io/pmcore/internal/smp"
	"github.com/sustainable-computing-io/pmcore/internal/state"
	"github.com/sustainable-computing-io/pmcore/internal/tick"
	"github.com/sustainable-computing-io/pmcore/internal/wakeup"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// Interrupter is implemented by boards that can be woken from outside
type Interrupter = sleep.Interrupter

// Service is the PM core seen by the service runner
type Service interface {
	service.Service
	DataProvider
}

// Core is the global PM context
type Core struct {
	logger *slog.Logger
	clock  clock.WithTicker
	board  sleep.Board

	ticks     *tick.Counter
	timers    *wakeup.Scheduler
	domains   *domain.Registry
	machine   *state.Machine
	cores     *smp.Cores
	sequencer *sleep.Sequencer
	idle      domain.Handle

	maxStaleness  time.Duration
	snapshotGroup singleflight.Group
	snapshot      atomic.Pointer[Snapshot]

	// signals when the power state changed
	dataCh chan struct{}

	ready   atomic.Bool
	running atomic.Bool
}

var (
	_ Service            = (*Core)(nil)
	_ service.Runner     = (*Core)(nil)
	_ service.Shutdowner = (*Core)(nil)
)

// New wires a PM core for board from the build-time constants in cfg
func New(cfg config.PM, board sleep.Board, applyOpts ...OptionFn) (*Core, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	logger := opts.logger

	ticks, err := tick.NewCounter(cfg.TickPeriod)
	if err != nil {
		return nil, err
	}

	timers, err := wakeup.NewScheduler(cfg.TickPeriod,
		wakeup.WithLogger(logger),
		wakeup.WithPoolSize(cfg.TimerPoolSize),
		wakeup.WithMinSleep(cfg.MinSleep),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wake-up timers: %w", err)
	}
	ticks.OnAdvance(timers.Advance)

	domains, err := domain.NewRegistry(timers,
		domain.WithLogger(logger),
		domain.WithMaxDomains(cfg.MaxDomains),
		domain.WithNameLength(cfg.DomainNameLength),
		domain.WithInteractive(cfg.InteractiveDomains),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain registry: %w", err)
	}

	machine, err := state.NewMachine(ticks, domains,
		state.WithLogger(logger),
		state.WithTimeSlice(ticks.Ticks(cfg.TimeSlice)),
		state.WithActivity(state.Activity{
			Memory:              cfg.Activity.Memory,
			NormalThreshold:     cfg.Activity.NormalThreshold,
			ForegroundThreshold: cfg.Activity.ForegroundThreshold,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}

	cores, err := smp.NewCores(cfg.Cores)
	if err != nil {
		return nil, err
	}

	seqOpts := []sleep.OptionFn{
		sleep.WithLogger(logger),
		sleep.WithCores(cores),
		sleep.WithMaxCompensation(ticks.Ticks(cfg.MaxCompensation)),
		sleep.WithWakeTickCredit(cfg.WakeTickCredit),
	}
	if i, ok := board.(Interrupter); ok {
		seqOpts = append(seqOpts, sleep.WithInterrupter(i))
	}
	sequencer, err := sleep.NewSequencer(board, machine, domains, timers, ticks, seqOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sleep sequencer: %w", err)
	}

	// a veto or an earlier deadline appearing while asleep ends the sleep
	domains.OnSuspend(func() { sequencer.Kick(power.WakeExternalIRQ) })
	timers.OnEarlierDeadline(func() { sequencer.Kick(power.WakeTimer) })

	idle, err := domains.Register(irq.Thread{}, domain.IdleDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to register the %s domain: %w", domain.IdleDomain, err)
	}

	c := &Core{
		logger:       logger.With("service", "pm"),
		clock:        opts.clock,
		board:        board,
		ticks:        ticks,
		timers:       timers,
		domains:      domains,
		machine:      machine,
		cores:        cores,
		sequencer:    sequencer,
		idle:         idle,
		maxStaleness: opts.maxStaleness,
		dataCh:       make(chan struct{}, 1),
	}

	if err := machine.Register(state.Callback{
		Name:   "pm-core",
		Notify: func(power.State) { c.signalNewData() },
	}); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Core) Name() string {
	return "pm"
}

func (c *Core) Init() error {
	if err := c.refreshSnapshot(); err != nil {
		return fmt.Errorf("failed to take initial snapshot: %w", err)
	}
	// signal now so that exporters can construct descriptors
	c.signalNewData()
	c.ready.Store(true)
	return nil
}

// Run is the idle task: every tick interrupt advances the tick counter, then
// the idle loop gets a chance to put the board to sleep
func (c *Core) Run(ctx context.Context) error {
	c.logger.Info("idle loop is running", "tick", c.ticks.Period())
	c.running.Store(true)
	defer c.running.Store(false)

	// a sleep without deadline only ends on an external wake-up
	stop := context.AfterFunc(ctx, c.wakeBoard)
	defer stop()

	// The tick the ticker buffers while the board sleeps is the wake tick
	// that cfg.WakeTickCredit leaves out of the compensation.
	ticker := c.clock.NewTicker(c.ticks.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("idle loop has terminated")
			return nil
		case <-ticker.C():
			c.ticks.Tick()
			if ctx.Err() != nil {
				continue
			}
			c.Idle()
		}
	}
}

func (c *Core) Shutdown() error {
	c.logger.Info("shutting down pm core")
	c.wakeBoard()
	return nil
}

func (c *Core) wakeBoard() {
	if i, ok := c.board.(Interrupter); ok {
		i.Interrupt(power.WakeUnknown)
	}
}

// IsLive reports whether the idle loop is running
func (c *Core) IsLive() bool {
	return c.running.Load()
}

// IsReady reports whether the core was initialized
func (c *Core) IsReady() bool {
	return c.ready.Load()
}

func (c *Core) signalNewData() {
	select {
	case c.dataCh <- struct{}{}:
	default:
	}
}

// DataChannel signals when the power state changed
func (c *Core) DataChannel() <-chan struct{} {
	return c.dataCh
}

// TickPeriod returns the length of one OS tick
func (c *Core) TickPeriod() time.Duration {
	return c.ticks.Period()
}

// Register returns the domain called name, creating it if needed
func (c *Core) Register(name string) (domain.Handle, error) {
	return c.domains.Register(irq.Thread{}, name)
}

// Unregister removes a domain
func (c *Core) Unregister(h domain.Handle) error {
	return c.domains.Unregister(irq.Thread{}, h)
}

// Suspend forbids deep states until the matching Resume
func (c *Core) Suspend(h domain.Handle) error {
	return c.domains.Suspend(h)
}

// Resume drops one suspend reference
func (c *Core) Resume(h domain.Handle) error {
	return c.domains.Resume(h)
}

// TimedSuspend suspends the domain for d
func (c *Core) TimedSuspend(ctx irq.Context, h domain.Handle, d time.Duration) error {
	return c.domains.TimedSuspend(ctx, h, d)
}

// Find looks a domain up by name
func (c *Core) Find(name string) (domain.Handle, bool) {
	return c.domains.Find(name)
}

// IdleDomain returns the handle of the default IDLE domain
func (c *Core) IdleDomain() domain.Handle {
	return c.idle
}

// Activity reports driver activity
func (c *Core) Activity(priority int) error {
	return c.machine.RecordActivity(priority)
}

// CheckState returns the recommended state
func (c *Core) CheckState() power.State {
	return c.machine.CheckState()
}

// ChangeState commits a new global state
func (c *Core) ChangeState(next power.State) error {
	return c.machine.ChangeState(next)
}

// Current returns the committed power state
func (c *Core) Current() power.State {
	return c.machine.Current()
}

// RegisterCallback subscribes a driver to state changes
func (c *Core) RegisterCallback(cb state.Callback) error {
	return c.machine.Register(cb)
}

// UnregisterCallback removes a driver subscription
func (c *Core) UnregisterCallback(name string) error {
	return c.machine.Unregister(name)
}

// Idle runs one pass of the idle loop on the primary CPU
func (c *Core) Idle() sleep.Result {
	r := c.sequencer.Idle()
	if r.Outcome == sleep.Slept {
		c.logger.Debug("slept", "reason", r.Reason, "ticks", r.ElapsedTicks, "compensated", r.Compensated)
	}
	return r
}

// SetCoreIdle records whether cpu is parked in its idle task
func (c *Core) SetCoreIdle(cpu int, idle bool) error {
	return c.cores.SetIdle(cpu, idle)
}

// Tick delivers one tick interrupt
func (c *Core) Tick() {
	c.ticks.Tick()
}

// Now returns the OS tick count
func (c *Core) Now() uint64 {
	return c.ticks.Now()
}

// Timers returns the wake-up timer scheduler
func (c *Core) Timers() *wakeup.Scheduler {
	return c.timers
}

// Sleep blocks the calling thread for d. The board may enter deep sleep
// meanwhile; the thread is woken by a wake-up timer.
func (c *Core) Sleep(ctx context.Context, d time.Duration) error {
	h, err := c.timers.Create(irq.Thread{})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.timers.Delete(h); err != nil {
			c.logger.Warn("failed to delete sleep timer", "timer", h, "error", err)
		}
	}()

	done := make(chan struct{})
	if err := c.timers.Arm(h, d, func() { close(done) }); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if err := c.timers.Cancel(h); err != nil {
			c.logger.Warn("failed to cancel sleep timer", "timer", h, "error", err)
		}
		return ctx.Err()
	}
}

// Snapshot returns a copy of the PM bookkeeping no older than the configured
// staleness
func (c *Core) Snapshot() (*Snapshot, error) {
	if !c.isFresh() {
		if err := c.synchronizedRefresh(); err != nil {
			return nil, err
		}
	}
	s := c.snapshot.Load()
	if s == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return s.Clone(), nil
}

// synchronizedRefresh rebuilds the snapshot once for all concurrent callers
func (c *Core) synchronizedRefresh() error {
	_, err, _ := c.snapshotGroup.Do("snapshot", func() (any, error) {
		// a concurrent caller may have refreshed it already
		if c.isFresh() {
			return nil, nil
		}
		return nil, c.refreshSnapshot()
	})
	return err
}

func (c *Core) isFresh() bool {
	s := c.snapshot.Load()
	if s == nil || s.Timestamp.IsZero() {
		return false
	}
	return c.clock.Since(s.Timestamp) <= c.maxStaleness
}

func (c *Core) refreshSnapshot() error {
	s := NewSnapshot()
	s.Timestamp = c.clock.Now()
	s.Tick = c.ticks.Now()
	s.CompensatedTicks = c.ticks.Compensated()
	s.State = c.machine.Stats()
	s.Domains = c.domains.Domains()
	s.Suspended = c.domains.Suspended()
	s.Sleep = c.sequencer.Stats()
	s.BusyCores = c.cores.Busy()

	next, ok := c.timers.NextDeadline()
	s.Timers = Timers{
		Armed:    c.timers.Len(),
		Expired:  c.timers.Expired(),
		PoolFree: c.timers.PoolFree(),
		Next:     next,
		HasNext:  ok,
		Pending:  c.timers.Pending(),
	}

	c.snapshot.Store(s)
	return nil
}
