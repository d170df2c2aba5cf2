package countdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var boltBucketName = []byte("counts")

type boltEngine struct{}

func (boltEngine) Name() Engine { return EngineBolt }

// ReadersBlockWriters is true: bbolt cannot grow its mmap while a read
// transaction holds the old mapping.
func (boltEngine) ReadersBlockWriters() bool { return true }

func (boltEngine) Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func (boltEngine) Open(path string, opt *Options, create bool) (storage, error) {
	if !create {
		st, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
		if !st.Mode().IsRegular() {
			return nil, fmt.Errorf("%s: not a bolt file: %w", path, ErrIncompatible)
		}
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.NoSync = !opt.SyncWrites
		bopt.InitialMmapSize = 64 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}

	var ok bool
	defer func() {
		if !ok {
			bdb.Close()
		}
	}()

	if create {
		err = bdb.Update(func(btx *bbolt.Tx) error {
			_, err := btx.CreateBucketIfNotExists(boltBucketName)
			return err
		})
	} else {
		err = bdb.View(func(btx *bbolt.Tx) error {
			if btx.Bucket(boltBucketName) == nil {
				return fmt.Errorf("%s: missing counts bucket: %w", path, ErrIncompatible)
			}
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	ok = true
	return &boltStorage{bdb: bdb}, nil
}

func (boltEngine) Destroy(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type boltStorage struct {
	bdb *bbolt.DB
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	b := btx.Bucket(boltBucketName)
	if b == nil {
		btx.Rollback()
		return nil, fmt.Errorf("bolt: missing counts bucket: %w", ErrIncompatible)
	}
	return &boltStorageTx{btx: btx, b: b}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
	b   *bbolt.Bucket
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Get(key []byte) ([]byte, error) { return tx.b.Get(key), nil }

// Bolt references key and value until commit, and callers reuse buffers.
func (tx *boltStorageTx) Put(key, value []byte) error {
	return tx.b.Put(cloneBytes(key), cloneBytes(value))
}

func (tx *boltStorageTx) Delete(key []byte) error { return tx.b.Delete(key) }

func (tx *boltStorageTx) Cursor() storageCursor { return boltCursor{c: tx.b.Cursor()} }

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Err() error { return nil }

func (c boltCursor) Close() {}
