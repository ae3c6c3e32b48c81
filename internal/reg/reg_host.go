//go:build !tinygo

package reg

import "sync/atomic"

// Register32 is a 32-bit register with the method set of TinyGo's
// volatile.Register32.
type Register32 struct {
	v atomic.Uint32
}

func (r *Register32) Get() uint32 {
	return r.v.Load()
}

func (r *Register32) Set(value uint32) {
	r.v.Store(value)
}

func (r *Register32) SetBits(value uint32) {
	r.v.Or(value)
}

func (r *Register32) ClearBits(value uint32) {
	r.v.And(^value)
}

// HasBits reports whether any of the bits in value are set.
func (r *Register32) HasBits(value uint32) bool {
	return r.Get()&value != 0
}

// ReplaceBits replaces the field of width mask at bit position pos
// with value.
func (r *Register32) ReplaceBits(value, mask uint32, pos uint8) {
	for {
		old := r.v.Load()
		nv := old&^(mask<<pos) | (value&mask)<<pos
		if r.v.CompareAndSwap(old, nv) {
			return
		}
	}
}
