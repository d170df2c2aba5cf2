package countdb

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// memEngine keeps stores in process memory, keyed by path, so that Close
// followed by OpenExisting sees the same data.
type memEngine struct {
	mu     sync.Mutex
	stores map[string]*memStorage
}

var defaultMemEngine = &memEngine{stores: make(map[string]*memStorage)}

func (e *memEngine) Name() Engine { return EngineMemory }

func (e *memEngine) ReadersBlockWriters() bool { return false }

func (e *memEngine) Exists(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stores[path] != nil
}

func (e *memEngine) Open(path string, opt *Options, create bool) (storage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stores[path]
	if s == nil {
		if !create {
			return nil, ErrNotFound
		}
		s = newMemStorage()
		e.stores[path] = s
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return nil, fmt.Errorf("memory store %s is already open", path)
	}
	s.attached = true
	return s, nil
}

func (e *memEngine) Destroy(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stores, path)
	return nil
}

type memStorage struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []memKV // sorted by key
	attached bool
	writer   bool
}

func newMemStorage() *memStorage {
	s := &memStorage{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && s.attached {
			s.cond.Wait()
		}
		if !s.attached {
			return nil, ErrClosed
		}
		s.writer = true
	}

	// Snapshot the entire store for transactional isolation (simplicity over efficiency).
	return &memTx{
		writable: writable,
		base:     s,
		items:    cloneMemItems(s.items),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
	s.cond.Broadcast()
	return nil
}

type memKV struct {
	key   []byte
	value []byte
}

func cloneMemItems(items []memKV) []memKV {
	out := make([]memKV, len(items))
	for i, kv := range items {
		out[i] = memKV{
			key:   slices.Clone(kv.key),
			value: slices.Clone(kv.value),
		}
	}
	return out
}

type memTx struct {
	base     *memStorage
	writable bool
	items    []memKV
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) find(key []byte) (idx int, ok bool) {
	items := tx.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

func (tx *memTx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, fmt.Errorf("tx is closed")
	}
	i, ok := tx.find(key)
	if !ok {
		return nil, nil
	}
	return tx.items[i].value, nil
}

func (tx *memTx) Put(key, value []byte) error {
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := tx.find(key)
	if ok {
		tx.items[i].value = value
		return nil
	}
	tx.items = slices.Insert(tx.items, i, memKV{key: key, value: value})
	return nil
}

func (tx *memTx) Delete(key []byte) error {
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	i, ok := tx.find(key)
	if !ok {
		return nil
	}
	tx.items = slices.Delete(tx.items, i, i+1)
	return nil
}

func (tx *memTx) Cursor() storageCursor {
	return &memCursor{tx: tx, pos: -1}
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if !tx.base.attached {
		tx.closeLocked()
		return ErrClosed
	}
	tx.base.items = tx.items
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memCursor struct {
	tx  *memTx
	pos int
}

func (c *memCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.tx.items) {
		return nil, nil
	}
	kv := c.tx.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.at()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos, _ = c.tx.find(seek)
	return c.at()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	c.pos++
	return c.at()
}

func (c *memCursor) Err() error { return nil }

func (c *memCursor) Close() {}
