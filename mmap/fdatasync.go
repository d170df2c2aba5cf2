package mmap

import "os"

// Fdatasync flushes the data written to f to stable storage, skipping
// metadata like modification time where the platform allows it. Export
// writers call it before reporting success.
//
// Errors are not recoverable: after a failed sync the kernel may have
// dropped the dirty pages, so the file must be treated as corrupt and
// rewritten from scratch.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
