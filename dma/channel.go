package dma

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"
	"halcore.dev/hal"
	"periph.io/x/conn/v3"
)

var (
	_ Controller    = (*Channel)(nil)
	_ conn.Resource = (*Channel)(nil)
)

type Config struct {
	Engine   Engine
	Registry *Registry
	Mode     Mode
	// Descriptors is the capacity of the descriptor list. Zero means one.
	Descriptors int
}

// Channel is a DMA channel. Configure, Append, Enable, Disable and Clear
// are called from task context; Interrupt from the controller's interrupt
// handler.
type Channel struct {
	engine   Engine
	registry *Registry
	mode     Mode
	limits   Limits

	settings   Settings
	configured bool
	list       []Descriptor
	queued     int
	callback   func(arg any)
	arg        any

	// state holds the State in the low byte and the fault
	// in the next.
	state atomic.Uint32
}

type fault uint32

const (
	faultNone fault = iota
	faultOwned
	faultHardware
)

func word(s State, f fault) uint32 {
	return uint32(s) | uint32(f)<<8
}

func New(cfg Config) (*Channel, error) {
	if cfg.Engine == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("%w: channel without engine or registry", hal.ErrInvalid)
	}
	n := cfg.Engine.Number()
	if n < 0 || n >= cfg.Registry.Len() {
		return nil, fmt.Errorf("%w: channel %d outside registry", hal.ErrInvalid, n)
	}
	lim := cfg.Engine.Limits()
	if cfg.Mode == Circular && !lim.Circular {
		return nil, fmt.Errorf("%w: %s has no circular mode", hal.ErrInvalid, cfg.Engine)
	}
	size := max(cfg.Descriptors, 1)
	if lim.Descriptors > 0 && size > lim.Descriptors {
		return nil, fmt.Errorf("%w: %s supports %d descriptors, not %d", hal.ErrInvalid, cfg.Engine, lim.Descriptors, size)
	}
	return &Channel{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		mode:     cfg.Mode,
		limits:   lim,
		list:     make([]Descriptor, size),
	}, nil
}

func (c *Channel) State() State {
	return State(c.state.Load() & 0xff)
}

func (c *Channel) set(s State) {
	c.state.Store(word(s, faultNone))
}

// Configure sets the transfer settings. It panics while the channel is
// busy or if the engine cannot express s.
func (c *Channel) Configure(s Settings) {
	if c.State() == StateBusy {
		panic("dma: configure of a busy channel")
	}
	if s.Source.Width > c.limits.MaxWidth || s.Destination.Width > c.limits.MaxWidth {
		panic("dma: unsupported transfer width")
	}
	if c.limits.Bursts&(1<<s.Burst) == 0 {
		panic("dma: unsupported burst size")
	}
	c.engine.Configure(s)
	c.settings = s
	c.configured = true
}

// SetCallback sets the function called after every state change caused
// by an interrupt.
func (c *Channel) SetCallback(fn func(arg any), arg any) {
	if c.State() == StateBusy {
		panic("dma: callback change of a busy channel")
	}
	c.callback, c.arg = fn, arg
}

// Append adds a transfer of size bytes from src to dst. Appending to a done
// or failed channel starts a new list; appending to a ready single
// descriptor channel replaces its descriptor.
func (c *Channel) Append(dst, src uintptr, size int) {
	st := c.State()
	if st == StateBusy {
		panic("dma: append to a busy channel")
	}
	if !c.configured {
		panic("dma: append before configure")
	}
	if dst == 0 || src == 0 {
		panic("dma: nil transfer address")
	}
	sw, dw := c.settings.Source.Width.Bytes(), c.settings.Destination.Width.Bytes()
	if src%uintptr(sw) != 0 || dst%uintptr(dw) != 0 {
		panic("dma: misaligned transfer address")
	}
	if size <= 0 || size%sw != 0 || size%dw != 0 {
		panic("dma: transfer size not a multiple of the transfer width")
	}
	n := size / sw
	if uint64(n) > uint64(c.limits.MaxTransfers) {
		panic("dma: transfer too large")
	}
	switch {
	case st == StateDone || st == StateError:
		c.queued = 0
	case st == StateReady && len(c.list) == 1:
		c.queued = 0
	}
	if c.queued == len(c.list) {
		panic("dma: descriptor list full")
	}
	c.list[c.queued] = Descriptor{Destination: dst, Source: src, Transfers: uint32(n)}
	c.queued++
	c.set(StateReady)
}

// Enable starts the transfer of the appended descriptors. It returns
// ErrOwned and moves to StateError if another channel owns the hardware.
func (c *Channel) Enable() error {
	if c.State() != StateReady {
		panic("dma: enable of a channel that is not ready")
	}
	n := c.engine.Number()
	if !c.registry.TryBind(n, c) {
		c.state.Store(word(StateError, faultOwned))
		return ErrOwned
	}
	// The interrupt may fire as soon as the engine starts.
	c.set(StateBusy)
	c.engine.Start(c.list[:c.queued], c.mode == Circular)
	return nil
}

// Interrupt reports an event decoded and acknowledged by the controller's
// interrupt handler. The callback runs after the state change.
func (c *Channel) Interrupt(ev Event) {
	busy := word(StateBusy, faultNone)
	switch ev {
	case EventError:
		if !c.state.CompareAndSwap(busy, word(StateError, faultHardware)) {
			return
		}
		c.engine.Stop()
		c.registry.Release(c.engine.Number())
		glog.V(2).Infof("dma: %s: transfer error", c.engine)
	case EventComplete:
		if c.mode == OneShot {
			if !c.state.CompareAndSwap(busy, word(StateDone, faultNone)) {
				return
			}
			c.registry.Release(c.engine.Number())
		} else if c.State() != StateBusy {
			return
		}
	case EventProgress:
		if c.State() != StateBusy {
			return
		}
	default:
		panic("dma: unknown event")
	}
	if c.callback != nil {
		c.callback(c.arg)
	}
}

// Disable stops a busy channel and moves it to StateDone. It does nothing
// in other states.
func (c *Channel) Disable() {
	if !c.state.CompareAndSwap(word(StateBusy, faultNone), word(StateDone, faultNone)) {
		return
	}
	c.engine.Stop()
	c.registry.Release(c.engine.Number())
}

// Clear disables the channel and drops its descriptors.
func (c *Channel) Clear() {
	c.Disable()
	c.queued = 0
	c.set(StateIdle)
}

// Residue returns the number of bytes left in the current descriptor.
// A channel that lost the hardware to another owner has no residue.
func (c *Channel) Residue() (int, error) {
	w := c.state.Load()
	switch State(w & 0xff) {
	case StateIdle, StateReady:
		return 0, fmt.Errorf("%w: no transfer started", hal.ErrInvalid)
	case StateError:
		if fault(w>>8) == faultOwned {
			return 0, fmt.Errorf("%w: hardware owned by another channel", hal.ErrInvalid)
		}
	}
	n, ok := c.engine.Remaining()
	if !ok {
		return 0, fmt.Errorf("%w: transfer count changed while reading", hal.ErrInvalid)
	}
	return int(n) * c.settings.Source.Width.Bytes(), nil
}

// Status returns nil for idle, ready and done channels, hal.ErrBusy while
// a transfer is running and the cause of the fault after an error.
func (c *Channel) Status() error {
	w := c.state.Load()
	switch State(w & 0xff) {
	case StateBusy:
		return hal.ErrBusy
	case StateError:
		if fault(w>>8) == faultOwned {
			return ErrOwned
		}
		return hal.ErrHardware
	default:
		return nil
	}
}

// Queued returns the number of descriptors still in flight.
func (c *Channel) Queued() int {
	if c.State() != StateBusy {
		return 0
	}
	return c.engine.Queued(c.queued)
}

// Close releases the channel. It panics if a transfer is running.
func (c *Channel) Close() error {
	if c.State() == StateBusy {
		panic("dma: close of a busy channel")
	}
	c.Clear()
	return nil
}

func (c *Channel) String() string {
	return c.engine.String()
}

// Halt stops any running transfer.
func (c *Channel) Halt() error {
	c.Disable()
	return nil
}
