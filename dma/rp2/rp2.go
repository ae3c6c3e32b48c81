// Package rp2 drives the DMA controller of the RP2350.
//
// The controller has no descriptor lists in hardware; lists are chained in
// software from the interrupt handler.
package rp2

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"halcore.dev/dma"
	"halcore.dev/internal/reg"
)

const (
	nchannels = 16
	nirq      = 4
)

// ChannelRegs is the register block of a channel.
type ChannelRegs struct {
	READ_ADDR            reg.Register32
	WRITE_ADDR           reg.Register32
	TRANS_COUNT          reg.Register32
	CTRL_TRIG            reg.Register32
	AL1_CTRL             reg.Register32
	AL1_READ_ADDR        reg.Register32
	AL1_WRITE_ADDR       reg.Register32
	AL1_TRANS_COUNT_TRIG reg.Register32
	AL2_CTRL             reg.Register32
	AL2_TRANS_COUNT      reg.Register32
	AL2_READ_ADDR        reg.Register32
	AL2_WRITE_ADDR_TRIG  reg.Register32
	AL3_CTRL             reg.Register32
	AL3_WRITE_ADDR       reg.Register32
	AL3_TRANS_COUNT      reg.Register32
	AL3_READ_ADDR_TRIG   reg.Register32
}

type IRQRegs struct {
	INTR reg.Register32
	INTE reg.Register32
	INTF reg.Register32
	INTS reg.Register32
}

type Regs struct {
	Channels           [nchannels]ChannelRegs
	IRQ                [nirq]IRQRegs
	TIMER              [4]reg.Register32
	MULTI_CHAN_TRIGGER reg.Register32
	SNIFF_CTRL         reg.Register32
	SNIFF_DATA         reg.Register32
	_                  reg.Register32
	FIFO_LEVELS        reg.Register32
	CHAN_ABORT         reg.Register32
}

// CTRL_TRIG fields.
const (
	ctrlEN          = 1 << 0
	ctrlHighPrio    = 1 << 1
	ctrlDataSize    = 2
	ctrlIncrRead    = 1 << 4
	ctrlIncrWrite   = 1 << 6
	ctrlRingSize    = 8
	ctrlRingSel     = 1 << 12
	ctrlChainTo     = 13
	ctrlTreqSel     = 17
	ctrlBusy        = 1 << 26
	ctrlWriteError  = 1 << 29
	ctrlReadError   = 1 << 30
	ctrlAHBError    = 1 << 31
	countMask       = 0x0fffffff
	treqPermanent   = 0x3f
	maxRingSizeLog2 = 15
)

// Controller is the DMA block, serviced through one of its
// interrupt lines.
type Controller struct {
	regs     *Regs
	line     int
	registry *dma.Registry
	running  [nchannels]atomic.Pointer[engine]

	mu sync.Mutex
	// reserved tracks the bitset of reserved DMA channels.
	reserved uint16
}

// New returns a controller raising completions on interrupt line irq.
func New(regs *Regs, irq int) *Controller {
	if irq < 0 || irq >= nirq {
		panic("rp2: no such DMA interrupt")
	}
	return &Controller{
		regs:     regs,
		line:     irq,
		registry: dma.NewRegistry(nchannels),
	}
}

// Reserve claims a free channel number.
func (c *Controller) Reserve() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	free := ^c.reserved
	if free == 0 {
		return 0, errors.New("rp2: no available DMA channel")
	}
	ch := bits.TrailingZeros16(free)
	c.reserved |= 0b1 << ch
	return ch, nil
}

// Unreserve returns a reserved channel number.
func (c *Controller) Unreserve(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved &^= 0b1 << n
}

type ChannelConfig struct {
	Number int
	// Request is the transfer request signal of the peripheral. It is
	// ignored for memory to memory transfers.
	Request      int
	Direction    dma.Direction
	Mode         dma.Mode
	HighPriority bool
	// Descriptors is the capacity of the chained list.
	Descriptors int
}

func (c *Controller) Channel(cfg ChannelConfig) (*dma.Channel, error) {
	if cfg.Number < 0 || cfg.Number >= nchannels {
		return nil, fmt.Errorf("rp2: no DMA channel %d", cfg.Number)
	}
	treq := uint32(treqPermanent)
	if cfg.Direction != dma.MemoryToMemory {
		if cfg.Request < 0 || cfg.Request >= treqPermanent {
			return nil, fmt.Errorf("rp2: invalid transfer request %d", cfg.Request)
		}
		treq = uint32(cfg.Request)
	}
	// Chaining a channel to itself disables chaining.
	ctrl := treq<<ctrlTreqSel | uint32(cfg.Number)<<ctrlChainTo
	if cfg.HighPriority {
		ctrl |= ctrlHighPrio
	}
	e := &engine{
		ctrl: c,
		n:    cfg.Number,
		regs: &c.regs.Channels[cfg.Number],
		base: ctrl,
		list: make([]dma.Descriptor, max(cfg.Descriptors, 1)),
	}
	return dma.New(dma.Config{
		Engine:      e,
		Registry:    c.registry,
		Mode:        cfg.Mode,
		Descriptors: len(e.list),
	})
}

// ServiceInterrupt is the handler of the controller's interrupt line.
func (c *Controller) ServiceInterrupt() {
	// Acknowledge interrupt.
	irq := &c.regs.IRQ[c.line]
	ints := irq.INTS.Get()
	irq.INTS.Set(ints)
	for ints != 0 {
		n := bits.TrailingZeros32(ints)
		ints &^= 1 << n
		c.service(n)
	}
}

func (c *Controller) service(n int) {
	ch := c.registry.Owner(n)
	e := c.running[n].Load()
	if ch == nil || e == nil {
		return
	}
	if e.regs.CTRL_TRIG.HasBits(ctrlAHBError) {
		ch.Interrupt(dma.EventError)
		return
	}
	e.cur++
	switch {
	case e.cur < e.count:
		e.program(e.list[e.cur])
		if e.circular {
			ch.Interrupt(dma.EventComplete)
		} else {
			ch.Interrupt(dma.EventProgress)
		}
	case e.circular:
		e.cur = 0
		e.program(e.list[0])
		ch.Interrupt(dma.EventComplete)
	default:
		ch.Interrupt(dma.EventComplete)
	}
}

// ForceInterrupt raises the interrupt of channel n.
func (c *Controller) ForceInterrupt(n int) {
	c.regs.IRQ[c.line].INTF.SetBits(0b1 << n)
}

func (c *Controller) ClearForceInterrupt(n int) {
	c.regs.IRQ[c.line].INTF.ClearBits(0b1 << n)
}

type engine struct {
	ctrl *Controller
	n    int
	regs *ChannelRegs
	base uint32
	cfg  uint32

	list     []dma.Descriptor
	count    int
	cur      int
	circular bool
}

func (e *engine) Number() int {
	return e.n
}

func (e *engine) Limits() dma.Limits {
	return dma.Limits{
		MaxTransfers: countMask,
		MaxWidth:     dma.Width32,
		Bursts:       1 << dma.Burst1,
		Descriptors:  len(e.list),
		Circular:     true,
	}
}

func (e *engine) Configure(s dma.Settings) {
	if s.Source.Width != s.Destination.Width {
		panic("rp2: source and destination widths differ")
	}
	cfg := e.base | uint32(s.Source.Width)<<ctrlDataSize
	if s.Source.Increment {
		cfg |= ctrlIncrRead
	}
	if s.Destination.Increment {
		cfg |= ctrlIncrWrite
	}
	switch {
	case s.Source.Wrap != 0 && s.Destination.Wrap != 0:
		panic("rp2: only one side can wrap")
	case s.Source.Wrap > maxRingSizeLog2 || s.Destination.Wrap > maxRingSizeLog2:
		panic("rp2: ring too large")
	case s.Source.Wrap != 0:
		cfg |= uint32(s.Source.Wrap) << ctrlRingSize
	case s.Destination.Wrap != 0:
		cfg |= uint32(s.Destination.Wrap)<<ctrlRingSize | ctrlRingSel
	}
	e.cfg = cfg
}

// program starts the transfer of d. The write to CTRL_TRIG triggers the
// channel.
func (e *engine) program(d dma.Descriptor) {
	e.regs.READ_ADDR.Set(uint32(d.Source))
	e.regs.WRITE_ADDR.Set(uint32(d.Destination))
	e.regs.TRANS_COUNT.Set(d.Transfers & countMask)
	e.regs.CTRL_TRIG.Set(e.cfg | ctrlEN)
}

func (e *engine) Start(list []dma.Descriptor, circular bool) {
	e.count = copy(e.list, list)
	e.cur, e.circular = 0, circular
	e.ctrl.running[e.n].Store(e)
	e.ctrl.regs.IRQ[e.ctrl.line].INTE.SetBits(0b1 << e.n)
	e.program(e.list[0])
}

func (e *engine) Stop() {
	// Clearing EN through the non-triggering alias also clears the
	// write one to clear error flags.
	e.regs.AL1_CTRL.ClearBits(ctrlEN)
	e.ctrl.regs.CHAN_ABORT.Set(0b1 << e.n)
	for e.regs.CTRL_TRIG.HasBits(ctrlBusy) {
	}
	e.ctrl.regs.IRQ[e.ctrl.line].INTE.ClearBits(0b1 << e.n)
	e.ctrl.running[e.n].CompareAndSwap(e, nil)
}

func (e *engine) Remaining() (uint32, bool) {
	return e.regs.TRANS_COUNT.Get() & countMask, true
}

func (e *engine) Queued(n int) int {
	return n - e.cur
}

func (e *engine) String() string {
	return fmt.Sprintf("DMA channel %d", e.n)
}
