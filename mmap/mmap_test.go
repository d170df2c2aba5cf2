package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestOptionsHas(t *testing.T) {
	var o Options = SequentialAccess | Prefault
	if !o.Has(Prefault) || o.Has(RandomAccess) {
		t.Fatalf("Options.Has returned unexpected results for %v", o)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	content := bytes.Repeat([]byte{1, 2, 3, 4}, 1024)
	ensure(os.WriteFile(path, content, 0o644))

	m := must(Open(path, SequentialAccess|Prefault))
	if !bytes.Equal(m.Bytes(), content) {
		t.Fatalf("mapping content differs, len %d, wanted %d", m.Len(), len(content))
	}
	ensure(m.Close())
	ensure(m.Close())
	if m.Bytes() != nil {
		t.Fatalf("Bytes after Close should be nil")
	}
}

func TestOpen_empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	ensure(os.WriteFile(path, nil, 0o644))

	m := must(Open(path, 0))
	defer m.Close()
	if m.Len() != 0 {
		t.Fatalf("Len = %d, wanted 0", m.Len())
	}
}

func TestOpen_missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), 0)
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, wanted not-exist", err)
	}
}

func TestFdatasync(t *testing.T) {
	f := must(os.Create(filepath.Join(t.TempDir(), "sync.bin")))
	defer f.Close()
	must(f.Write([]byte("hello")))
	if err := Fdatasync(f); err != nil {
		t.Fatalf("Fdatasync: %v", err)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
