// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"log/slog"

	"github.com/sustainable-computing-io/pmcore/internal/power"
)

// Activity tunes how reported activity maps to a recommendation
type Activity struct {
	// Memory is the weight of the previous average when a slice is folded in
	Memory uint32
	// NormalThreshold is the activity level at which Normal is recommended
	NormalThreshold uint32
	// ForegroundThreshold is the activity level at which Foreground is
	// recommended
	ForegroundThreshold uint32
}

type Opts struct {
	logger    *slog.Logger
	timeSlice uint64
	activity  Activity
	initial   power.State
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:    slog.Default(),
		timeSlice: 10,
		activity: Activity{
			Memory:              2,
			NormalThreshold:     10,
			ForegroundThreshold: 30,
		},
		initial: power.Normal,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Machine
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithTimeSlice sets the time slice, in ticks
func WithTimeSlice(ticks uint64) OptionFn {
	return func(o *Opts) {
		o.timeSlice = ticks
	}
}

// WithActivity sets the activity tuning
func WithActivity(a Activity) OptionFn {
	return func(o *Opts) {
		o.activity = a
	}
}

// WithInitialState sets the state committed at boot
func WithInitialState(s power.State) OptionFn {
	return func(o *Opts) {
		o.initial = s
	}
}
