// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package power

// WakeReason identifies what brought the CPU out of a sleep
type WakeReason int

const (
	WakeUnknown WakeReason = iota
	// WakeTimer means the programmed wake-up timer fired
	WakeTimer
	// WakeExternalIRQ means a peripheral interrupt (GPIO, UART, radio) fired
	WakeExternalIRQ
	// WakeResetButton means the reset/power button was pressed
	WakeResetButton
	// WakeWatchdog means the hardware watchdog fired
	WakeWatchdog
)

var wakeReasonNames = map[WakeReason]string{
	WakeUnknown:     "unknown",
	WakeTimer:       "timer",
	WakeExternalIRQ: "external_irq",
	WakeResetButton: "reset_button",
	WakeWatchdog:    "watchdog",
}

// WakeReasons returns all known wake reasons
func WakeReasons() []WakeReason {
	return []WakeReason{WakeUnknown, WakeTimer, WakeExternalIRQ, WakeResetButton, WakeWatchdog}
}

func (r WakeReason) String() string {
	if name, ok := wakeReasonNames[r]; ok {
		return name
	}
	return wakeReasonNames[WakeUnknown]
}
