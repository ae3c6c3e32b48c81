//go:build !tinygo

package irq

import (
	"runtime"
	"sync/atomic"
)

// State is the mask state returned by Save.
type State uintptr

var (
	// masked emulates the interrupt mask. Interrupt context on the host
	// is any goroutine that delivers completions.
	masked atomic.Bool
	// event latches a wakeup for Wait.
	event = make(chan struct{}, 1)
)

// Save masks interrupts and returns the previous state.
func Save() State {
	lock()
	return 1
}

// Restore restores the mask state returned by Save.
func Restore(s State) {
	if s == 0 {
		return
	}
	masked.Store(false)
}

func lock() {
	for !masked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Wait must be called with interrupts masked. It unmasks interrupts, waits
// for Wake and masks them again. Wakeups are latched, so a Wake that happens
// between the caller's last check and Wait is not lost. Wait may return
// spuriously.
func Wait() {
	masked.Store(false)
	<-event
	lock()
}

// Wake wakes a pending or future Wait.
func Wake() {
	select {
	case event <- struct{}{}:
	default:
	}
}
