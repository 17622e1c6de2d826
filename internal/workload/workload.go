// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package workload simulates the drivers of a small board so that the PM
// core has something to arbitrate: a radio that transmits in bursts, a UART
// that receives on external interrupts, and secondary CPUs running tasks.
package workload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sustainable-computing-io/pmcore/internal/domain"
	"github.com/sustainable-computing-io/pmcore/internal/irq"
	"github.com/sustainable-computing-io/pmcore/internal/power"
	"github.com/sustainable-computing-io/pmcore/internal/service"
	"github.com/sustainable-computing-io/pmcore/internal/smp"
	"golang.org/x/sync/errgroup"
)

// Core is the part of the PM core drivers use
type Core interface {
	Register(name string) (domain.Handle, error)
	Suspend(h domain.Handle) error
	Resume(h domain.Handle) error
	TimedSuspend(ctx irq.Context, h domain.Handle, d time.Duration) error
	Activity(priority int) error
	Sleep(ctx context.Context, d time.Duration) error
	SetCoreIdle(cpu int, idle bool) error
}

// Interrupter raises external wake-ups on the board
type Interrupter interface {
	Interrupt(reason power.WakeReason)
}

// Workload runs the simulated drivers
type Workload struct {
	logger *slog.Logger
	core   Core
	irqs   Interrupter
	opts   Opts

	radio domain.Handle
	uart  domain.Handle
}

var (
	_ service.Initializer = (*Workload)(nil)
	_ service.Runner      = (*Workload)(nil)
)

// New creates the workload. irqs may be nil when the board has no external
// wake sources.
func New(core Core, irqs Interrupter, applyOpts ...OptionFn) *Workload {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	return &Workload{
		logger: opts.logger.With("service", "workload"),
		core:   core,
		irqs:   irqs,
		opts:   opts,
	}
}

func (w *Workload) Name() string {
	return "workload"
}

func (w *Workload) Init() error {
	var err error
	if w.radio, err = w.core.Register("radio"); err != nil {
		return fmt.Errorf("failed to register radio: %w", err)
	}
	if w.uart, err = w.core.Register("uart"); err != nil {
		return fmt.Errorf("failed to register uart: %w", err)
	}
	return nil
}

func (w *Workload) Run(outer context.Context) error {
	g, ctx := errgroup.WithContext(outer)

	if w.opts.radioPeriod > 0 {
		g.Go(func() error { return w.every(ctx, w.opts.radioPeriod, w.transmit) })
	}
	if w.opts.uartPeriod > 0 {
		g.Go(func() error { return w.every(ctx, w.opts.uartPeriod, w.receive) })
	}
	for cpu := smp.Primary + 1; cpu < w.opts.cores; cpu++ {
		g.Go(func() error {
			return w.every(ctx, w.opts.taskPeriod, func(ctx context.Context) error {
				return w.task(ctx, cpu)
			})
		})
	}

	if err := g.Wait(); err != nil && outer.Err() == nil {
		return err
	}
	return nil
}

// every runs fn, then sleeps on a PM wake-up timer, until ctx is done
func (w *Workload) every(ctx context.Context, period time.Duration, fn func(context.Context) error) error {
	for {
		if err := w.core.Sleep(ctx, period); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// transmit keeps the radio domain suspended for one burst
func (w *Workload) transmit(ctx context.Context) error {
	if err := w.core.Suspend(w.radio); err != nil {
		return err
	}
	defer func() {
		if err := w.core.Resume(w.radio); err != nil {
			w.logger.Error("failed to resume radio", "error", err)
		}
	}()

	if err := w.core.Activity(w.opts.radioPriority); err != nil {
		return err
	}
	w.logger.Debug("radio burst", "duration", w.opts.radioBurst)
	return w.core.Sleep(ctx, w.opts.radioBurst)
}

// receive is the UART RX interrupt: it wakes the board and holds the UART
// domain long enough for the rest of the frame to arrive
func (w *Workload) receive(context.Context) error {
	if w.irqs != nil {
		w.irqs.Interrupt(power.WakeExternalIRQ)
	}
	if err := w.core.TimedSuspend(irq.Interrupt{}, w.uart, w.opts.uartHold); err != nil {
		return err
	}
	return w.core.Activity(w.opts.uartPriority)
}

// task keeps a secondary CPU busy for one time slice
func (w *Workload) task(ctx context.Context, cpu int) error {
	if err := w.core.SetCoreIdle(cpu, false); err != nil {
		return err
	}
	defer func() {
		if err := w.core.SetCoreIdle(cpu, true); err != nil {
			w.logger.Error("failed to park cpu", "cpu", cpu, "error", err)
		}
	}()
	return w.core.Sleep(ctx, w.opts.taskBusy)
}
