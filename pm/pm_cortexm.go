//go:build tinygo && cortexm

package pm

import "device/arm"

func (wfi) Sleep() {
	arm.Asm("wfi")
}
