//go:build tinygo

package reg

import "runtime/volatile"

type Register32 = volatile.Register32
