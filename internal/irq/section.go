// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package irq

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Section is a short exclusive region shared between task and interrupt
// context. It never parks the caller: contenders spin, yielding the processor
// between attempts, so it is usable where a sleeping lock is not. Sections
// must be held for O(1) or O(small n) work only.
//
// The zero value is an unlocked section.
type Section struct {
	_      cpu.CacheLinePad
	locked atomic.Bool
	_      cpu.CacheLinePad
}

var _ sync.Locker = (*Section)(nil)

// Lock enters the section
func (s *Section) Lock() {
	for !s.locked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// TryLock enters the section if it is free and reports whether it did
func (s *Section) TryLock() bool {
	return s.locked.CompareAndSwap(false, true)
}

// Unlock leaves the section. Leaving a section that is not held is a
// programming error.
func (s *Section) Unlock() {
	if !s.locked.CompareAndSwap(true, false) {
		panic("irq: unlock of unlocked section")
	}
}

// Held reports whether some caller is inside the section
func (s *Section) Held() bool {
	return s.locked.Load()
}
