package interchange

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andreyvit/countdb/mmap"
)

// WriteFile writes path atomically: f writes into a temporary file in the
// same directory, which is synced and renamed over path only if f succeeds.
func WriteFile(path string, f func(w io.Writer) error) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	var ok bool
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := f(tmp); err != nil {
		return err
	}
	if err := mmap.Fdatasync(tmp); err != nil {
		return fmt.Errorf("%s: sync: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	ok = true
	return nil
}

// ReadFile opens path and passes it to f.
func ReadFile(path string, f func(r io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return f(file)
}
