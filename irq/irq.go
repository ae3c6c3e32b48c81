// Package irq implements the critical section shared between task and
// interrupt context, and interrupt lines that can be triggered from software.
//
// State touched from both contexts must only be modified between Save and
// Restore. Callbacks must never be invoked with interrupts masked, so a
// critical section never nests.
package irq

// Line is an interrupt line that can be armed and triggered from software.
type Line interface {
	Enable()
	Disable()
	// SetPending requests the line's handler to run.
	SetPending()
}
