// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"log/slog"
	"time"
)

type Opts struct {
	logger *slog.Logger
	cores  int

	radioPeriod   time.Duration
	radioBurst    time.Duration
	radioPriority int

	uartPeriod   time.Duration
	uartHold     time.Duration
	uartPriority int

	taskPeriod time.Duration
	taskBusy   time.Duration
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:        slog.Default(),
		cores:         1,
		radioPeriod:   2 * time.Second,
		radioBurst:    300 * time.Millisecond,
		radioPriority: 5,
		uartPeriod:    3 * time.Second,
		uartHold:      500 * time.Millisecond,
		uartPriority:  2,
		taskPeriod:    time.Second,
		taskBusy:      100 * time.Millisecond,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the workload
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithCores runs a task on every secondary CPU
func WithCores(n int) OptionFn {
	return func(o *Opts) {
		o.cores = n
	}
}

// WithRadio sets how often and how long the radio transmits. A zero period
// disables it.
func WithRadio(period, burst time.Duration) OptionFn {
	return func(o *Opts) {
		o.radioPeriod = period
		o.radioBurst = burst
	}
}

// WithUART sets how often a frame arrives and how long the UART stays up.
// A zero period disables it.
func WithUART(period, hold time.Duration) OptionFn {
	return func(o *Opts) {
		o.uartPeriod = period
		o.uartHold = hold
	}
}

// WithTasks sets how often and how long secondary CPUs run
func WithTasks(period, busy time.Duration) OptionFn {
	return func(o *Opts) {
		o.taskPeriod = period
		o.taskBusy = busy
	}
}
