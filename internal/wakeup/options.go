// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package wakeup

import (
	"log/slog"
	"time"
)

type Opts struct {
	logger   *slog.Logger
	poolSize int
	minSleep time.Duration
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		poolSize: 16,
		minSleep: 0,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Scheduler
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithPoolSize sets the number of statically allocated timers
func WithPoolSize(n int) OptionFn {
	return func(o *Opts) {
		o.poolSize = n
	}
}

// WithMinSleep sets the shortest interval worth programming into the
// hardware wake-up timer
func WithMinSleep(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.minSleep = d
	}
}
