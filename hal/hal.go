// Package hal defines the errors shared by the scheduler, DMA and stream
// packages.
//
// Misuse such as calling an operation in a state that does not allow it is
// not reported as an error; it panics.
package hal

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a resource is temporarily unavailable. The
	// operation may succeed if retried later.
	ErrBusy = errors.New("resource busy")
	// ErrFull is returned when a fixed capacity queue refuses an element.
	ErrFull = fmt.Errorf("%w: queue full", ErrBusy)
	// ErrInvalid is returned for requests that can never succeed in the
	// current configuration.
	ErrInvalid = errors.New("invalid request")
	// ErrNoMemory is returned when a constructor cannot allocate its
	// storage.
	ErrNoMemory = errors.New("out of memory")
	// ErrHardware is returned when the hardware reported a fault.
	ErrHardware = errors.New("hardware error")
)
