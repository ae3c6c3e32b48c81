package dma

import "sync/atomic"

// Registry tracks the channel that owns each hardware slot of a controller.
// Binding and release are lock free and safe from interrupt context.
type Registry struct {
	owners []atomic.Pointer[Channel]
}

func NewRegistry(slots int) *Registry {
	return &Registry{owners: make([]atomic.Pointer[Channel], slots)}
}

func (r *Registry) Len() int {
	return len(r.owners)
}

// TryBind makes ch the owner of slot i if the slot is free.
func (r *Registry) TryBind(i int, ch *Channel) bool {
	return r.owners[i].CompareAndSwap(nil, ch)
}

// Release frees slot i.
func (r *Registry) Release(i int) {
	r.owners[i].Store(nil)
}

// Owner returns the channel bound to slot i, or nil.
func (r *Registry) Owner(i int) *Channel {
	return r.owners[i].Load()
}
