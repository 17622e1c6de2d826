// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package power

import "errors"

// Error classes shared by all PM components. Component errors wrap exactly one
// of these so that callers can classify them with errors.Is.
var (
	// ErrInvalidArgument reports a bad handle, name or value passed by a caller
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExhausted reports that a fixed-size table or pool is full
	ErrExhausted = errors.New("resource exhausted")

	// ErrInvariant reports an input that would break an internal invariant.
	// The offending input is discarded.
	ErrInvariant = errors.New("invariant violation")
)
