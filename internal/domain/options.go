// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "log/slog"

type Opts struct {
	logger      *slog.Logger
	maxDomains  int
	nameLength  int
	interactive []string
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:      slog.Default(),
		maxDomains:  32,
		nameLength:  31,
		interactive: []string{IdleDomain},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Registry
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithMaxDomains sets the size of the domain table
func WithMaxDomains(n int) OptionFn {
	return func(o *Opts) {
		o.maxDomains = n
	}
}

// WithNameLength sets the longest accepted domain name, in bytes
func WithNameLength(n int) OptionFn {
	return func(o *Opts) {
		o.nameLength = n
	}
}

// WithInteractive sets the names of the domains that keep the system in the
// Normal state while suspended
func WithInteractive(names []string) OptionFn {
	return func(o *Opts) {
		o.interactive = names
	}
}
