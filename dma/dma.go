// Package dma implements the transfer state machine shared by the DMA
// controller drivers in its subpackages.
//
// A transfer is set up in three separate phases: Configure selects data
// widths, bursts and address stepping; Append adds source and destination
// descriptors; Enable binds the channel to its hardware slot and starts
// the engine. Completion is reported by the controller's interrupt handler
// through Channel.Interrupt.
package dma

import (
	"fmt"

	"halcore.dev/hal"
)

// Width is the size of a single transfer.
type Width uint8

const (
	Width8 Width = iota
	Width16
	Width32
	Width64
)

// Bytes returns the number of bytes in a transfer of width w.
func (w Width) Bytes() int {
	return 1 << w
}

func (w Width) String() string {
	return fmt.Sprintf("%d-bit", 8*w.Bytes())
}

// Burst is the log2 number of transfers per bus burst.
type Burst uint8

const (
	Burst1 Burst = iota
	Burst2
	Burst4
	Burst8
	Burst16
	Burst32
	Burst64
	Burst128
	Burst256
)

// Transfers returns the number of transfers per burst.
func (b Burst) Transfers() int {
	return 1 << b
}

// Side describes the address stepping of a transfer source or destination.
type Side struct {
	Width     Width
	Increment bool
	// Wrap is the log2 size in bytes of the ring the address wraps
	// around in, or zero for no wrapping.
	Wrap uint8
}

type Settings struct {
	Burst       Burst
	Source      Side
	Destination Side
}

// Direction is the flow of data between memory and a peripheral.
type Direction uint8

const (
	PeripheralToMemory Direction = iota
	MemoryToPeripheral
	MemoryToMemory
)

// Mode selects between single and repeated traversal of the
// descriptor list.
type Mode uint8

const (
	// OneShot transfers the descriptor list once.
	OneShot Mode = iota
	// Circular restarts the descriptor list after its last entry
	// until disabled.
	Circular
)

type State uint8

const (
	StateIdle State = iota
	StateReady
	StateBusy
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event is an interrupt condition decoded by a controller.
type Event uint8

const (
	// EventComplete marks the end of a one-shot transfer or of
	// a descriptor of a circular transfer.
	EventComplete Event = iota
	// EventProgress marks an intermediate point such as a half
	// transfer or the end of a non-final descriptor.
	EventProgress
	// EventError marks a bus or configuration fault.
	EventError
)

// Descriptor is a single contiguous transfer.
type Descriptor struct {
	Destination uintptr
	Source      uintptr
	// Transfers is the number of source width transfers.
	Transfers uint32
}

// Limits describes the capabilities of an engine.
type Limits struct {
	// MaxTransfers is the largest transfer count of a descriptor.
	MaxTransfers uint32
	MaxWidth     Width
	// Bursts has bit b set for every supported Burst(b).
	Bursts uint16
	// Descriptors is the longest supported list, or zero for no limit.
	Descriptors int
	Circular    bool
}

// Engine is the register level half of a channel, implemented by each
// controller family.
type Engine interface {
	// Number is the hardware channel number, and the channel's
	// slot in the owner Registry.
	Number() int
	Limits() Limits
	// Configure translates settings into the engine's control word. It
	// panics on settings the engine cannot express.
	Configure(s Settings)
	// Start programs the descriptor list and starts the transfer.
	Start(list []Descriptor, circular bool)
	// Stop disables the engine and waits for in-flight bus cycles.
	Stop()
	// Remaining returns the transfer count left in the current
	// descriptor, or false if it cannot be read consistently.
	Remaining() (uint32, bool)
	// Queued returns the number of descriptors of a list of length n
	// that are still in flight.
	Queued(n int) int
	String() string
}

// Controller is the driver facing interface of a channel.
type Controller interface {
	Configure(s Settings)
	SetCallback(fn func(arg any), arg any)
	Append(dst, src uintptr, size int)
	Enable() error
	Disable()
	Clear()
	Residue() (int, error)
	Status() error
	Queued() int
}

// ErrOwned is returned by Enable when another channel holds the
// hardware slot.
var ErrOwned = fmt.Errorf("%w: hardware channel owned by another stream", hal.ErrBusy)
