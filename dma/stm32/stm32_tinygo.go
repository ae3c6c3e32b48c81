//go:build tinygo && stm32f1

package stm32

import "unsafe"

var (
	DMA1 = (*Regs)(unsafe.Pointer(uintptr(0x40020000)))
	DMA2 = (*Regs)(unsafe.Pointer(uintptr(0x40020400)))
)
