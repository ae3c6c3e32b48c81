//go:build linux && !tinygo

package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
	"halcore.dev/hal"
)

func alloc(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: arena of %d bytes: %v", hal.ErrNoMemory, size, err)
	}
	return b, nil
}

func free(b []byte) error {
	return unix.Munmap(b[:cap(b)])
}
