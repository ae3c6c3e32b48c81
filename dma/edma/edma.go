// Package edma drives the enhanced DMA controller of NXP i.MX RT parts.
//
// Each channel transfers according to a transfer control descriptor (TCD).
// Lists of descriptors are linked through scatter/gather: the controller
// loads the next TCD from memory when the current major loop completes.
package edma

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"halcore.dev/dma"
	"halcore.dev/internal/reg"
)

const nchannels = 32

// TCD is the register view of a transfer control descriptor. 16-bit
// fields share a register with their neighbour.
type TCD struct {
	SADDR      reg.Register32
	SOFF_ATTR  reg.Register32
	NBYTES     reg.Register32
	SLAST      reg.Register32
	DADDR      reg.Register32
	DOFF_CITER reg.Register32
	DLASTSGA   reg.Register32
	CSR_BITER  reg.Register32
}

type Regs struct {
	CR  reg.Register32
	ES  reg.Register32
	_   reg.Register32
	ERQ reg.Register32
	_   reg.Register32
	EEI reg.Register32
	_   [3]reg.Register32
	INT reg.Register32
	_   reg.Register32
	ERR reg.Register32
	_   reg.Register32
	HRS reg.Register32
	_   [1010]reg.Register32
	TCD [nchannels]TCD
}

// ATTR fields, in the upper half of SOFF_ATTR.
const (
	attrDSIZE = 16
	attrDMOD  = 19
	attrSSIZE = 24
	attrSMOD  = 27
)

// CSR bits, in the lower half of CSR_BITER.
const (
	csrSTART    = 1 << 0
	csrINTMAJOR = 1 << 1
	csrINTHALF  = 1 << 2
	csrDREQ     = 1 << 3
	csrESG      = 1 << 4
	csrACTIVE   = 1 << 6
	csrDONE     = 1 << 7
)

const (
	iterMask  = 0x7fff
	iterShift = 16
)

// tcd is a descriptor in memory, loaded by scatter/gather.
type tcd [8]uint32

type Controller struct {
	name     string
	regs     *Regs
	registry *dma.Registry
	running  [nchannels]atomic.Pointer[engine]
}

func New(name string, regs *Regs) *Controller {
	return &Controller{
		name:     name,
		regs:     regs,
		registry: dma.NewRegistry(nchannels),
	}
}

type ChannelConfig struct {
	Number    int
	Direction dma.Direction
	Mode      dma.Mode
	// Descriptors is the capacity of the scatter/gather list.
	Descriptors int
	// HalfInterrupt reports the middle of each major loop as progress.
	HalfInterrupt bool
}

func (c *Controller) Channel(cfg ChannelConfig) (*dma.Channel, error) {
	if cfg.Number < 0 || cfg.Number >= nchannels {
		return nil, fmt.Errorf("edma: %s: no channel %d", c.name, cfg.Number)
	}
	n := max(cfg.Descriptors, 1)
	// Scatter/gather descriptors must be 32 byte aligned.
	raw := make([]uint32, 8*(n+1))
	off := (32 - uintptr(unsafe.Pointer(&raw[0]))%32) % 32
	tcds := unsafe.Slice((*tcd)(unsafe.Add(unsafe.Pointer(&raw[0]), off)), n)
	e := &engine{
		ctrl: c,
		n:    cfg.Number,
		regs: &c.regs.TCD[cfg.Number],
		dir:  cfg.Direction,
		half: cfg.HalfInterrupt,
		raw:  raw,
		tcds: tcds,
	}
	return dma.New(dma.Config{
		Engine:      e,
		Registry:    c.registry,
		Mode:        cfg.Mode,
		Descriptors: n,
	})
}

// ServiceInterrupt acknowledges the interrupt and error flags of channel n
// and reports them to its owner.
func (c *Controller) ServiceInterrupt(n int) {
	mask := uint32(1) << n
	failed := c.regs.ERR.Get()&mask != 0
	intr := c.regs.INT.Get()&mask != 0
	if failed {
		c.regs.ERR.Set(mask)
	}
	if intr {
		c.regs.INT.Set(mask)
	}
	ch := c.registry.Owner(n)
	e := c.running[n].Load()
	if ch == nil || e == nil {
		return
	}
	switch {
	case failed:
		ch.Interrupt(dma.EventError)
	case intr:
		if e.circular || e.regs.CSR_BITER.HasBits(csrDONE) {
			ch.Interrupt(dma.EventComplete)
		} else {
			ch.Interrupt(dma.EventProgress)
		}
	}
}

type engine struct {
	ctrl *Controller
	n    int
	regs *TCD
	dir  dma.Direction
	half bool

	soffAttr uint32
	doff     uint32
	nbytes   uint32

	raw      []uint32
	tcds     []tcd
	count    int
	circular bool
}

func (e *engine) Number() int {
	return e.n
}

func (e *engine) Limits() dma.Limits {
	return dma.Limits{
		MaxTransfers: iterMask,
		MaxWidth:     dma.Width64,
		Bursts:       1 << dma.Burst1,
		Descriptors:  len(e.tcds),
		Circular:     true,
	}
}

func (e *engine) Configure(s dma.Settings) {
	if s.Source.Width != s.Destination.Width {
		panic("edma: source and destination widths differ")
	}
	if s.Source.Wrap > 31 || s.Destination.Wrap > 31 {
		panic("edma: address modulo out of range")
	}
	attr := uint32(s.Destination.Width)<<attrDSIZE |
		uint32(s.Destination.Wrap)<<attrDMOD |
		uint32(s.Source.Width)<<attrSSIZE |
		uint32(s.Source.Wrap)<<attrSMOD
	var soff, doff uint32
	if s.Source.Increment {
		soff = uint32(s.Source.Width.Bytes())
	}
	if s.Destination.Increment {
		doff = uint32(s.Destination.Width.Bytes())
	}
	e.soffAttr = soff | attr
	e.doff = doff
	e.nbytes = uint32(s.Source.Width.Bytes())
}

func (e *engine) addr(i int) uint32 {
	return uint32(uintptr(unsafe.Pointer(&e.tcds[i])))
}

func (e *engine) Start(list []dma.Descriptor, circular bool) {
	for i, d := range list {
		csr := uint32(csrINTMAJOR)
		if e.half {
			csr |= csrINTHALF
		}
		var next uint32
		switch {
		case i+1 < len(list):
			next = e.addr(i + 1)
		case circular:
			next = e.addr(0)
		}
		if next != 0 {
			csr |= csrESG
		} else {
			csr |= csrDREQ
		}
		e.tcds[i] = tcd{
			uint32(d.Source),
			e.soffAttr,
			e.nbytes,
			0,
			uint32(d.Destination),
			e.doff | d.Transfers<<iterShift,
			next,
			csr | d.Transfers<<iterShift,
		}
	}
	e.count, e.circular = len(list), circular
	e.ctrl.running[e.n].Store(e)
	mask := uint32(1) << e.n
	e.ctrl.regs.ERQ.ClearBits(mask)
	first := &e.tcds[0]
	r := e.regs
	r.CSR_BITER.Set(0)
	r.SADDR.Set(first[0])
	r.SOFF_ATTR.Set(first[1])
	r.NBYTES.Set(first[2])
	r.SLAST.Set(first[3])
	r.DADDR.Set(first[4])
	r.DOFF_CITER.Set(first[5])
	r.DLASTSGA.Set(first[6])
	r.CSR_BITER.Set(first[7])
	if e.dir == dma.MemoryToMemory {
		r.CSR_BITER.SetBits(csrSTART)
	} else {
		e.ctrl.regs.ERQ.SetBits(mask)
	}
}

func (e *engine) Stop() {
	e.ctrl.regs.ERQ.ClearBits(1 << e.n)
	e.regs.CSR_BITER.ClearBits(csrSTART | csrINTMAJOR | csrINTHALF)
	for e.regs.CSR_BITER.HasBits(csrACTIVE) {
	}
	e.ctrl.running[e.n].CompareAndSwap(e, nil)
}

func (e *engine) Remaining() (uint32, bool) {
	sga := e.regs.DLASTSGA.Get()
	n := e.regs.DOFF_CITER.Get() >> iterShift & iterMask
	if e.regs.DLASTSGA.Get() != sga {
		return 0, false
	}
	return n, true
}

func (e *engine) Queued(n int) int {
	sga := e.regs.DLASTSGA.Get()
	if sga == 0 {
		return 1
	}
	for i := range e.count {
		if e.tcds[i][6] == sga {
			return n - i
		}
	}
	return n
}

func (e *engine) String() string {
	return fmt.Sprintf("%s channel %d", e.ctrl.name, e.n)
}
