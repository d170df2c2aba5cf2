//go:build unix

package mmap

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func mmap(f *os.File, size int, opt Options) ([]byte, error) {
	flags := syscall.MAP_SHARED
	if opt.Has(Prefault) {
		flags |= populateFlag
	}

	b, err := unix.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, flags)
	if err != nil {
		return nil, err
	}

	var advice int
	switch {
	case opt.Has(SequentialAccess):
		advice = syscall.MADV_SEQUENTIAL
	case opt.Has(RandomAccess):
		advice = syscall.MADV_RANDOM
	default:
		return b, nil
	}
	err = unix.Madvise(b, advice)
	if err != nil && err != syscall.ENOSYS {
		// ENOSYS: kernel without madvise still maps fine
		unix.Munmap(b)
		return nil, fmt.Errorf("madvise(%d): %w", advice, err)
	}
	return b, nil
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
