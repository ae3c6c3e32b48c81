// Package gpdma drives the general purpose DMA controller of NXP LPC17xx
// and LPC40xx parts. Transfers are described by linked list entries in
// memory, so a channel can queue several descriptors.
package gpdma

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"halcore.dev/dma"
	"halcore.dev/internal/reg"
)

const nchannels = 8

type ChannelRegs struct {
	SRCADDR  reg.Register32
	DESTADDR reg.Register32
	LLI      reg.Register32
	CONTROL  reg.Register32
	CONFIG   reg.Register32
	_        [3]reg.Register32
}

type Regs struct {
	INTSTAT       reg.Register32
	INTTCSTAT     reg.Register32
	INTTCCLEAR    reg.Register32
	INTERRSTAT    reg.Register32
	INTERRCLR     reg.Register32
	RAWINTTCSTAT  reg.Register32
	RAWINTERRSTAT reg.Register32
	ENBLDCHNS     reg.Register32
	SOFTBREQ      reg.Register32
	SOFTSREQ      reg.Register32
	SOFTLBREQ     reg.Register32
	SOFTLSREQ     reg.Register32
	CONFIG        reg.Register32
	SYNC          reg.Register32
	_             [50]reg.Register32
	Channels      [nchannels]ChannelRegs
}

// CONTROL fields.
const (
	ctlSizeMask = 0xfff
	ctlSBSize   = 12
	ctlDBSize   = 15
	ctlSWidth   = 18
	ctlDWidth   = 21
	ctlSI       = 1 << 26
	ctlDI       = 1 << 27
	ctlI        = 1 << 31
)

// CONFIG fields.
const (
	cfgE         = 1 << 0
	cfgSrcPeriph = 1
	cfgDstPeriph = 6
	cfgFlow      = 11
	cfgIE        = 1 << 14
	cfgITC       = 1 << 15
	cfgA         = 1 << 17
	cfgH         = 1 << 18
)

// Transfer flow control values.
const (
	flowM2M = 0
	flowM2P = 1
	flowP2M = 2
)

// entry is a linked list entry as read by the controller.
type entry struct {
	Source      uint32
	Destination uint32
	Next        uint32
	Control     uint32
}

type Controller struct {
	name     string
	regs     *Regs
	registry *dma.Registry
	running  [nchannels]atomic.Pointer[engine]
}

// New enables the controller and returns its driver.
func New(name string, regs *Regs) *Controller {
	regs.CONFIG.SetBits(1)
	return &Controller{
		name:     name,
		regs:     regs,
		registry: dma.NewRegistry(nchannels),
	}
}

type ChannelConfig struct {
	Number    int
	Direction dma.Direction
	// Peripheral is the request line of the peripheral side.
	Peripheral int
	Mode       dma.Mode
	// Descriptors is the capacity of the linked list.
	Descriptors int
	// Silent raises the terminal count interrupt only for the last
	// entry of the list.
	Silent bool
}

func (c *Controller) Channel(cfg ChannelConfig) (*dma.Channel, error) {
	if cfg.Number < 0 || cfg.Number >= nchannels {
		return nil, fmt.Errorf("gpdma: %s: no channel %d", c.name, cfg.Number)
	}
	if cfg.Peripheral < 0 || cfg.Peripheral > 31 {
		return nil, fmt.Errorf("gpdma: %s: no request line %d", c.name, cfg.Peripheral)
	}
	e := &engine{
		ctrl:    c,
		n:       cfg.Number,
		regs:    &c.regs.Channels[cfg.Number],
		silent:  cfg.Silent,
		entries: make([]entry, max(cfg.Descriptors, 1)),
	}
	p := uint32(cfg.Peripheral)
	switch cfg.Direction {
	case dma.PeripheralToMemory:
		e.config = flowP2M<<cfgFlow | p<<cfgSrcPeriph
	case dma.MemoryToPeripheral:
		e.config = flowM2P<<cfgFlow | p<<cfgDstPeriph
	default:
		e.config = flowM2M << cfgFlow
	}
	return dma.New(dma.Config{
		Engine:      e,
		Registry:    c.registry,
		Mode:        cfg.Mode,
		Descriptors: len(e.entries),
	})
}

// ServiceInterrupt acknowledges the terminal count and error flags of
// channel n and reports them to its owner.
func (c *Controller) ServiceInterrupt(n int) {
	mask := uint32(1) << n
	tc := c.regs.INTTCSTAT.Get()&mask != 0
	failed := c.regs.INTERRSTAT.Get()&mask != 0
	if tc {
		c.regs.INTTCCLEAR.Set(mask)
	}
	if failed {
		c.regs.INTERRCLR.Set(mask)
	}
	ch := c.registry.Owner(n)
	e := c.running[n].Load()
	if ch == nil || e == nil {
		return
	}
	switch {
	case failed:
		ch.Interrupt(dma.EventError)
	case tc:
		// The controller disables the channel after the last entry
		// of a one-shot list.
		if e.circular || !e.regs.CONFIG.HasBits(cfgE) {
			ch.Interrupt(dma.EventComplete)
		} else {
			ch.Interrupt(dma.EventProgress)
		}
	}
}

// burstCodes maps dma.Burst to the SBSize and DBSize encoding.
var burstCodes = [...]int8{
	dma.Burst1:   0,
	dma.Burst2:   -1,
	dma.Burst4:   1,
	dma.Burst8:   2,
	dma.Burst16:  3,
	dma.Burst32:  4,
	dma.Burst64:  5,
	dma.Burst128: 6,
	dma.Burst256: 7,
}

type engine struct {
	ctrl    *Controller
	n       int
	regs    *ChannelRegs
	silent  bool
	config  uint32
	control uint32

	entries  []entry
	count    int
	circular bool
}

func (e *engine) Number() int {
	return e.n
}

func (e *engine) Limits() dma.Limits {
	var bursts uint16
	for b, code := range burstCodes {
		if code >= 0 {
			bursts |= 1 << b
		}
	}
	return dma.Limits{
		MaxTransfers: ctlSizeMask,
		MaxWidth:     dma.Width32,
		Bursts:       bursts,
		Descriptors:  len(e.entries),
		Circular:     true,
	}
}

func (e *engine) Configure(s dma.Settings) {
	if s.Source.Wrap != 0 || s.Destination.Wrap != 0 {
		panic("gpdma: address wrapping not supported")
	}
	code := uint32(burstCodes[s.Burst])
	ctl := code<<ctlSBSize | code<<ctlDBSize
	ctl |= uint32(s.Source.Width)<<ctlSWidth | uint32(s.Destination.Width)<<ctlDWidth
	if s.Source.Increment {
		ctl |= ctlSI
	}
	if s.Destination.Increment {
		ctl |= ctlDI
	}
	e.control = ctl
}

func (e *engine) addr(i int) uint32 {
	return uint32(uintptr(unsafe.Pointer(&e.entries[i])))
}

func (e *engine) Start(list []dma.Descriptor, circular bool) {
	for i, d := range list {
		ctl := e.control | d.Transfers&ctlSizeMask
		last := i == len(list)-1
		if !e.silent || last {
			ctl |= ctlI
		}
		var next uint32
		switch {
		case !last:
			next = e.addr(i + 1)
		case circular:
			next = e.addr(0)
		}
		e.entries[i] = entry{
			Source:      uint32(d.Source),
			Destination: uint32(d.Destination),
			Next:        next,
			Control:     ctl,
		}
	}
	e.count, e.circular = len(list), circular
	e.ctrl.running[e.n].Store(e)
	first := e.entries[0]
	r := e.regs
	r.CONFIG.Set(0)
	e.ctrl.regs.INTTCCLEAR.Set(1 << e.n)
	e.ctrl.regs.INTERRCLR.Set(1 << e.n)
	r.SRCADDR.Set(first.Source)
	r.DESTADDR.Set(first.Destination)
	r.LLI.Set(first.Next)
	r.CONTROL.Set(first.Control)
	r.CONFIG.Set(e.config | cfgIE | cfgITC)
	r.CONFIG.SetBits(cfgE)
}

func (e *engine) Stop() {
	r := e.regs
	// Halt requests and let the FIFO drain before disabling.
	r.CONFIG.SetBits(cfgH)
	for r.CONFIG.HasBits(cfgA) {
	}
	r.CONFIG.ClearBits(cfgE | cfgH)
	e.ctrl.running[e.n].CompareAndSwap(e, nil)
}

// Remaining reads the transfer count, which is only consistent if the
// controller did not load another entry meanwhile.
func (e *engine) Remaining() (uint32, bool) {
	lli := e.regs.LLI.Get()
	n := e.regs.CONTROL.Get() & ctlSizeMask
	if e.regs.LLI.Get() != lli {
		return 0, false
	}
	return n, true
}

// Queued returns the number of entries from the current one to the end of
// the list.
func (e *engine) Queued(n int) int {
	lli := e.regs.LLI.Get()
	if lli == 0 {
		return 1
	}
	for i := range e.count {
		if e.entries[i].Next == lli {
			return n - i
		}
	}
	return n
}

func (e *engine) String() string {
	return fmt.Sprintf("%s channel %d", e.ctrl.name, e.n)
}
