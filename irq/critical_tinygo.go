//go:build tinygo

package irq

import "runtime/interrupt"

type State = interrupt.State

// Save masks interrupts and returns the previous state.
func Save() State {
	return interrupt.Disable()
}

// Restore restores the mask state returned by Save.
func Restore(s State) {
	interrupt.Restore(s)
}

// Wake is a no-op on hardware: the interrupt that produced work has already
// woken the core.
func Wake() {}
