// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sleep

import (
	"log/slog"

	"github.com/sustainable-computing-io/pmcore/internal/power"
)

type Opts struct {
	logger          *slog.Logger
	cores           Cores
	interrupter     Interrupter
	maxCompensation uint64
	wakeTickCredit  uint64
	wakeState       power.State
}

// DefaultOpts returns the default options. The compensation bound is set
// from the tick period by NewSequencer unless overridden.
func DefaultOpts() Opts {
	return Opts{
		logger:         slog.Default(),
		wakeTickCredit: 1,
		wakeState:      power.Normal,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Sequencer
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithCores enables secondary-CPU gating
func WithCores(c Cores) OptionFn {
	return func(o *Opts) {
		o.cores = c
	}
}

// WithInterrupter sets how Kick ends a sleep in progress
func WithInterrupter(i Interrupter) OptionFn {
	return func(o *Opts) {
		o.interrupter = i
	}
}

// WithMaxCompensation sets the largest sleep, in ticks, that is believed.
// Longer measurements are discarded as corrupt.
func WithMaxCompensation(ticks uint64) OptionFn {
	return func(o *Opts) {
		o.maxCompensation = ticks
	}
}

// WithWakeTickCredit sets how many ticks the wake interrupt itself credits
// through the regular tick path
func WithWakeTickCredit(ticks uint64) OptionFn {
	return func(o *Opts) {
		o.wakeTickCredit = ticks
	}
}

// WithWakeState sets the state committed after waking up
func WithWakeState(s power.State) OptionFn {
	return func(o *Opts) {
		o.wakeState = s
	}
}
