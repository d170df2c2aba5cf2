package countdb

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds how many times Update re-runs a function whose
// commit lost an optimistic-concurrency race (badger only).
const maxConflictRetries = 8

// Tx is a unit of work against one store. Writes inside an Update become
// visible atomically on commit.
type Tx struct {
	store   *Store
	stx     storageTx
	written bool

	keyBuf []byte
}

func (tx *Tx) Store() *Store {
	return tx.store
}

func (tx *Tx) IsWritable() bool {
	return tx.stx.Writable()
}

// Get returns a copy of the value under key.
func (tx *Tx) Get(key []byte) ([]byte, bool, error) {
	tx.store.stats.Gets.Add(1)
	v, err := tx.stx.Get(key)
	if err != nil {
		return nil, false, storeErrf(tx.store.name, key, err, "get")
	}
	if v == nil {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (tx *Tx) Put(key, value []byte) error {
	if len(key) == 0 || key[0] == 0 {
		return storeErrf(tx.store.name, key, nil, "put: key outside data range")
	}
	tx.store.stats.Puts.Add(1)
	tx.written = true
	if err := tx.stx.Put(key, value); err != nil {
		return storeErrf(tx.store.name, key, err, "put")
	}
	return nil
}

func (tx *Tx) Delete(key []byte) error {
	tx.store.stats.Deletes.Add(1)
	tx.written = true
	if err := tx.stx.Delete(key); err != nil {
		return storeErrf(tx.store.name, key, err, "delete")
	}
	return nil
}

// Scan calls f for every pair in rang, in key order, until f returns false.
// The slices passed to f are only valid during the call.
func (tx *Tx) Scan(rang RawRange, f func(k, v []byte) bool) error {
	tx.store.stats.Scans.Add(1)
	bcur := tx.stx.Cursor()
	defer bcur.Close()
	c := rang.newCursor(bcur, tx.store.logger)
	var n int64
	for c.Next() {
		n++
		if !f(c.Key(), c.Value()) {
			break
		}
	}
	tx.store.stats.ScannedEntries.Add(n)
	if err := c.Err(); err != nil {
		return storeErrf(tx.store.name, rang.Lower, err, "scan")
	}
	return nil
}

// key encodes k into a buffer owned by the transaction. The result is
// invalidated by the next call.
func (tx *Tx) key(k Key) []byte {
	tx.keyBuf = AppendKey(tx.keyBuf[:0], k)
	return tx.keyBuf
}

// Update runs f inside a read-write transaction and commits if f returns nil.
// Panics inside f are converted into errors and roll the transaction back.
//
// On the bolt engine, Update fails with ErrCursorsOpen while any cursor of
// the store is open.
func (s *Store) Update(f func(tx *Tx) error) error {
	stg, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release()

	if s.eng.ReadersBlockWriters() {
		if err := s.checkNoCursors("update"); err != nil {
			return err
		}
	}

	for attempt := 1; ; attempt++ {
		err := s.runTx(stg, true, f)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			s.stats.Conflicts.Add(1)
			continue
		}
		return err
	}
}

// View runs f inside a read-only transaction over a consistent snapshot.
func (s *Store) View(f func(tx *Tx) error) error {
	stg, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release()
	return s.runTx(stg, false, f)
}

func (s *Store) runTx(stg storage, writable bool, f func(tx *Tx) error) error {
	stx, err := stg.BeginTx(writable)
	if err != nil {
		return storeErrf(s.name, nil, err, "begin")
	}
	tx := &Tx{store: s, stx: stx}
	defer stx.Rollback()

	err = safelyCall(f, tx)
	if err != nil {
		return err
	}
	if writable && tx.written {
		if err := stx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", s.name, err)
		}
		s.stats.Commits.Add(1)
	}
	return nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

// Unwrap exposes panics raised with an error value (e.g. a *DataError from
// the key codec).
func (p panicked) Unwrap() error {
	err, _ := p.reason.(error)
	return err
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
