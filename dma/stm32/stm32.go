// Package stm32 drives the channel based DMA controller of STM32 F0, F1,
// F3, L0 and L1 parts.
package stm32

import (
	"fmt"

	"halcore.dev/dma"
	"halcore.dev/internal/reg"
)

const nchannels = 7

// ChannelRegs is the register block of a channel.
type ChannelRegs struct {
	CCR   reg.Register32
	CNDTR reg.Register32
	CPAR  reg.Register32
	CMAR  reg.Register32
	_     reg.Register32
}

// Regs is the register block of a controller.
type Regs struct {
	ISR      reg.Register32
	IFCR     reg.Register32
	Channels [nchannels]ChannelRegs
}

// CCR bits.
const (
	ccrEN      = 1 << 0
	ccrTCIE    = 1 << 1
	ccrHTIE    = 1 << 2
	ccrTEIE    = 1 << 3
	ccrDIR     = 1 << 4
	ccrCIRC    = 1 << 5
	ccrPINC    = 1 << 6
	ccrMINC    = 1 << 7
	ccrPSIZE   = 8
	ccrMSIZE   = 10
	ccrPL      = 12
	ccrMEM2MEM = 1 << 14
)

// ISR and IFCR flags, shifted by 4 times the channel number.
const (
	flagGIF  = 1 << 0
	flagTCIF = 1 << 1
	flagHTIF = 1 << 2
	flagTEIF = 1 << 3
)

const maxTransfers = 0xffff

// Controller is a DMA controller instance.
type Controller struct {
	name     string
	regs     *Regs
	registry *dma.Registry
}

func New(name string, regs *Regs) *Controller {
	return &Controller{
		name:     name,
		regs:     regs,
		registry: dma.NewRegistry(nchannels),
	}
}

type ChannelConfig struct {
	// Number is the zero based channel number.
	Number    int
	Direction dma.Direction
	// Priority is the bus arbitration level, 0 (low) to 3 (very high).
	Priority int
	Mode     dma.Mode
}

// Channel creates a channel driver. Several channels may be created for
// the same hardware channel; only one at a time can be enabled.
func (c *Controller) Channel(cfg ChannelConfig) (*dma.Channel, error) {
	if cfg.Number < 0 || cfg.Number >= nchannels {
		return nil, fmt.Errorf("stm32: %s: no channel %d", c.name, cfg.Number)
	}
	if cfg.Priority < 0 || cfg.Priority > 3 {
		return nil, fmt.Errorf("stm32: %s: priority %d out of range", c.name, cfg.Priority)
	}
	e := &engine{
		ctrl: c,
		n:    cfg.Number,
		regs: &c.regs.Channels[cfg.Number],
		dir:  cfg.Direction,
		pl:   uint32(cfg.Priority),
	}
	return dma.New(dma.Config{
		Engine:   e,
		Registry: c.registry,
		Mode:     cfg.Mode,
	})
}

// ServiceInterrupt acknowledges the flags of channel n and reports them to
// the channel that owns it. It must be called from the channel's
// interrupt handler.
func (c *Controller) ServiceInterrupt(n int) {
	shift := 4 * uint(n)
	flags := (c.regs.ISR.Get() >> shift) & 0xf
	if flags == 0 {
		return
	}
	c.regs.IFCR.Set(flags << shift)
	ch := c.registry.Owner(n)
	if ch == nil {
		return
	}
	switch {
	case flags&flagTEIF != 0:
		ch.Interrupt(dma.EventError)
	case flags&flagTCIF != 0:
		ch.Interrupt(dma.EventComplete)
	case flags&flagHTIF != 0:
		ch.Interrupt(dma.EventProgress)
	}
}

type engine struct {
	ctrl *Controller
	n    int
	regs *ChannelRegs
	dir  dma.Direction
	pl   uint32

	ccr       uint32
	circular  bool
	transfers uint32
}

func (e *engine) Number() int {
	return e.n
}

func (e *engine) Limits() dma.Limits {
	return dma.Limits{
		MaxTransfers: maxTransfers,
		MaxWidth:     dma.Width32,
		Bursts:       1 << dma.Burst1,
		Descriptors:  1,
		Circular:     true,
	}
}

func (e *engine) Configure(s dma.Settings) {
	if s.Source.Wrap != 0 || s.Destination.Wrap != 0 {
		panic("stm32: address wrapping not supported")
	}
	ccr := e.pl << ccrPL
	// The peripheral side is the source unless memory is read.
	periph, mem := s.Source, s.Destination
	switch e.dir {
	case dma.MemoryToPeripheral:
		ccr |= ccrDIR
		periph, mem = s.Destination, s.Source
	case dma.MemoryToMemory:
		ccr |= ccrMEM2MEM
	}
	ccr |= uint32(periph.Width) << ccrPSIZE
	ccr |= uint32(mem.Width) << ccrMSIZE
	if periph.Increment {
		ccr |= ccrPINC
	}
	if mem.Increment {
		ccr |= ccrMINC
	}
	e.ccr = ccr
}

func (e *engine) Start(list []dma.Descriptor, circular bool) {
	d := list[0]
	e.regs.CCR.Set(0)
	if e.dir == dma.MemoryToPeripheral {
		e.regs.CPAR.Set(uint32(d.Destination))
		e.regs.CMAR.Set(uint32(d.Source))
	} else {
		e.regs.CPAR.Set(uint32(d.Source))
		e.regs.CMAR.Set(uint32(d.Destination))
	}
	e.regs.CNDTR.Set(d.Transfers)
	e.circular, e.transfers = circular, d.Transfers
	ccr := e.ccr | ccrTCIE | ccrTEIE
	if circular {
		ccr |= ccrCIRC | ccrHTIE
	}
	e.regs.CCR.Set(ccr)
	e.regs.CCR.SetBits(ccrEN)
}

func (e *engine) Stop() {
	e.regs.CCR.ClearBits(ccrEN | ccrTCIE | ccrHTIE | ccrTEIE)
}

func (e *engine) Remaining() (uint32, bool) {
	return e.regs.CNDTR.Get() & maxTransfers, true
}

// Queued counts the halves of a circular buffer in flight.
func (e *engine) Queued(n int) int {
	if e.circular && e.regs.CNDTR.Get()&maxTransfers > e.transfers/2 {
		return 2
	}
	return 1
}

func (e *engine) String() string {
	return fmt.Sprintf("%s channel %d", e.ctrl.name, e.n+1)
}
