//go:build tinygo && riscv

package pm

import "device/riscv"

func (wfi) Sleep() {
	riscv.Asm("wfi")
}
