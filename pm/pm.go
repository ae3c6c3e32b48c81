// Package pm puts the processor in a low-power state while there is no work.
package pm

// Sleeper stops the processor until an interrupt is pending. Sleep is
// called with interrupts masked: a pending interrupt ends the sleep and is
// taken once the caller restores the mask.
type Sleeper interface {
	Sleep()
}

// WaitForInterrupt is the platform's wait-for-interrupt sleep.
var WaitForInterrupt Sleeper = wfi{}

type wfi struct{}
