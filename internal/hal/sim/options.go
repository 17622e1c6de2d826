// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"log/slog"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger    *slog.Logger
	clock     clock.Clock
	counterHz uint64
	wakeTick  func()
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:    slog.Default(),
		clock:     clock.RealClock{},
		counterHz: DefaultCounterHz,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Board
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock the board measures time with
func WithClock(c clock.Clock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithCounterHz sets the frequency of the real-time counter
func WithCounterHz(hz uint64) OptionFn {
	return func(o *Opts) {
		o.counterHz = hz
	}
}

// WithWakeTick sets the function raised as the first tick interrupt after
// every wake-up. Leave it unset when a periodic ticker already delivers it.
func WithWakeTick(fn func()) OptionFn {
	return func(o *Opts) {
		o.wakeTick = fn
	}
}
