//go:build !tinygo

package pm

import "halcore.dev/irq"

func (wfi) Sleep() {
	irq.Wait()
}
