// Package arena allocates the single backing block of a buffer pool.
package arena

import "halcore.dev/hal"

// Alloc returns a zeroed block of size bytes. The block must be released
// with Free. A size of zero returns a nil block.
func Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, hal.ErrInvalid
	}
	if size == 0 {
		return nil, nil
	}
	return alloc(size)
}

// Free releases a block returned by Alloc.
func Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return free(b)
}
