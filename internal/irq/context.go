// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package irq provides the execution-context tokens and the exclusive section
// used by the PM core.
//
// Operations that may allocate or block take a Thread token; operations that
// are safe from interrupt handlers take any Context. An interrupt dispatcher
// hands its handlers an Interrupt token, so an allocating path cannot be
// reached from an interrupt handler without a type error.
package irq

// Context identifies the execution context of a caller
type Context interface {
	// InInterrupt reports whether the caller runs in interrupt context
	InInterrupt() bool

	sealed()
}

// Thread is the token for ordinary task context
type Thread struct{}

// Interrupt is the token for interrupt/exception context
type Interrupt struct {
	// IRQ is the interrupt line being serviced, -1 if unknown
	IRQ int
}

var (
	_ Context = Thread{}
	_ Context = Interrupt{}
)

func (Thread) InInterrupt() bool { return false }
func (Thread) sealed()           {}

func (Interrupt) InInterrupt() bool { return true }
func (Interrupt) sealed()           {}
