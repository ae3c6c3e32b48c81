//go:build tinygo && mimxrt1062

package edma

import "unsafe"

var DMA0 = (*Regs)(unsafe.Pointer(uintptr(0x400e8000)))
