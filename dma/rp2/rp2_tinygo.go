//go:build tinygo && rp2350

package rp2

import (
	"device/rp"
	"runtime/interrupt"
	"unsafe"
)

// DMA is the controller's register block.
var DMA = (*Regs)(unsafe.Pointer(&rp.DMA.CH0_READ_ADDR))

var (
	intrs    [nirq]interrupt.Interrupt
	handlers [nirq]*Controller
)

func init() {
	intrs[0] = interrupt.New(rp.IRQ_DMA_IRQ_0, func(interrupt.Interrupt) { handle(0) })
	intrs[1] = interrupt.New(rp.IRQ_DMA_IRQ_1, func(interrupt.Interrupt) { handle(1) })
	intrs[2] = interrupt.New(rp.IRQ_DMA_IRQ_2, func(interrupt.Interrupt) { handle(2) })
	intrs[3] = interrupt.New(rp.IRQ_DMA_IRQ_3, func(interrupt.Interrupt) { handle(3) })
}

func handle(num int) {
	if c := handlers[num]; c != nil {
		c.ServiceInterrupt()
	}
}

// EnableInterrupt routes the controller's interrupt line to
// ServiceInterrupt.
func (c *Controller) EnableInterrupt() {
	handlers[c.line] = c
	// Lower priority assuming that DMA completion interrupts
	// are both heavier and less time-critical than other kinds
	// of interrupts.
	intrs[c.line].SetPriority(0xff)
	intrs[c.line].Enable()
}
