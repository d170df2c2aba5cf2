package countdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Kind identifies the layout of keys inside a store. A store remembers its
// kind in the metadata record and refuses to open as anything else.
type Kind string

const (
	KindRaw    Kind = "raw"
	KindLex    Kind = "lex"
	KindPhrase Kind = "phrase"
)

// Store is the persistent ordered key-value store behind one logical table.
// It owns the engine handle exclusively; opening the same path twice in one
// process is not supported.
//
// Writes follow a single-writer discipline: callers serialize mutations of
// overlapping keys. Reads may run concurrently with writes and observe a
// consistent snapshot.
type Store struct {
	name   string
	kind   Kind
	opt    Options
	eng    engine
	logger *slog.Logger

	mu    sync.RWMutex
	stg   storage
	fatal error

	stats Stats

	cursors     []*Cursor
	cursorsLock sync.Mutex
}

// Open attaches the store at name, creating it if opt.CreateIfMissing is set.
func Open(name string, kind Kind, opt Options) (*Store, error) {
	return openStore(name, kind, opt, opt.CreateIfMissing)
}

// OpenExisting attaches the store at name without creating it. Returns an
// error wrapping ErrNotFound if there is nothing there, or ErrIncompatible
// if the store holds a different kind of table.
func OpenExisting(name string, kind Kind, opt Options) (*Store, error) {
	return openStore(name, kind, opt, false)
}

// Init creates an empty store at name, destroying whatever was there,
// including stores of another kind.
func Init(name string, kind Kind, opt Options) (*Store, error) {
	if err := Drop(name, opt); err != nil {
		return nil, err
	}
	return openStore(name, kind, opt, true)
}

// Drop destroys all persisted data at name. Safe to call when nothing exists.
func Drop(name string, opt Options) error {
	if name == "" {
		return nil
	}
	eng, err := engineFor(&opt)
	if err != nil {
		return err
	}
	if err := eng.Destroy(name); err != nil {
		return storeErrf(name, nil, err, "drop")
	}
	return nil
}

// Exists reports whether a store is present at name.
func Exists(name string, opt Options) bool {
	eng, err := engineFor(&opt)
	if err != nil {
		return false
	}
	return eng.Exists(name)
}

func openStore(name string, kind Kind, opt Options, create bool) (*Store, error) {
	if name == "" {
		return nil, errors.New("countdb: store name is required")
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	eng, err := engineFor(&opt)
	if err != nil {
		return nil, err
	}
	s := &Store{
		name:   name,
		kind:   kind,
		opt:    opt,
		eng:    eng,
		logger: opt.logger().With(slog.String("store", name)),
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "countdb: opening", slog.String("engine", string(eng.Name())), slog.String("kind", string(kind)), slog.Bool("create", create), slog.Int("max_open_files", opt.MaxOpenFiles))

	stg, err := s.attach(create)
	if err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "countdb: cannot open", slog.Any("err", err))
		return nil, err
	}
	s.stg = stg
	return s, nil
}

// attach opens the engine handle and validates or writes the metadata
// record. The handle is released on every failure path.
func (s *Store) attach(create bool) (storage, error) {
	stg, err := s.eng.Open(s.name, &s.opt, create)
	if err != nil {
		return nil, storeErrf(s.name, nil, err, "open")
	}
	var ok bool
	defer func() {
		if !ok {
			stg.Close()
		}
	}()

	if err := ensureMeta(stg, s.kind); err != nil {
		return nil, storeErrf(s.name, nil, err, "open")
	}
	ok = true
	return stg, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Kind() Kind { return s.kind }

func (s *Store) Options() Options { return s.opt }

func (s *Store) Logger() *slog.Logger { return s.logger }

// acquire read-locks the handle. The caller must call release.
func (s *Store) acquire() (storage, error) {
	s.mu.RLock()
	if s.fatal != nil {
		err := s.fatal
		s.mu.RUnlock()
		return nil, err
	}
	if s.stg == nil {
		s.mu.RUnlock()
		return nil, storeErrf(s.name, nil, ErrClosed, "")
	}
	return s.stg, nil
}

func (s *Store) release() {
	s.mu.RUnlock()
}

// Get returns the value stored under key. A miss is not an error: it
// returns found == false.
func (s *Store) Get(key []byte) (value []byte, found bool, err error) {
	err = s.View(func(tx *Tx) error {
		value, found, err = tx.Get(key)
		return err
	})
	return value, found, err
}

func (s *Store) Put(key, value []byte) error {
	return s.Update(func(tx *Tx) error {
		return tx.Put(key, value)
	})
}

func (s *Store) Delete(key []byte) error {
	return s.Update(func(tx *Tx) error {
		return tx.Delete(key)
	})
}

// KV is a copied key-value pair.
type KV struct {
	Key   []byte
	Value []byte
}

// Scan returns all pairs with lo <= key < hi, in key order, from one
// snapshot. A nil hi means no upper bound. The metadata record is never
// returned, whatever lo is.
func (s *Store) Scan(lo, hi []byte) ([]KV, error) {
	var result []KV
	rang := RawIE(lo, hi)
	if data := dataRange(); bytes.Compare(lo, data.Lower) < 0 {
		rang.Lower = data.Lower
	}
	err := s.View(func(tx *Tx) error {
		return tx.Scan(rang, func(k, v []byte) bool {
			result = append(result, KV{cloneBytes(k), cloneBytes(v)})
			return true
		})
	})
	return result, err
}

// Size returns the number of entries, excluding the metadata record.
func (s *Store) Size() (int, error) {
	return s.CountRange(dataRange())
}

// CountRange counts the keys in rang.
func (s *Store) CountRange(rang RawRange) (int, error) {
	var n int
	err := s.View(func(tx *Tx) error {
		return tx.Scan(rang, func(k, v []byte) bool {
			n++
			return true
		})
	})
	return n, err
}

// Clear drops the store and recreates it empty. Without a name it does
// nothing. If the store cannot be recreated, Clear returns a *FatalError and
// every later call on this Store fails with it.
func (s *Store) Clear() error {
	if s.name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return s.fatal
	}
	if err := s.checkNoCursors("clear"); err != nil {
		return err
	}

	if err := s.detach(); err != nil {
		return storeErrf(s.name, nil, err, "clear: closing")
	}
	if err := s.eng.Destroy(s.name); err != nil {
		s.fatal = &FatalError{Store: s.name, Op: "clear: drop", Err: err}
		s.logger.LogAttrs(context.Background(), slog.LevelError, "countdb: cannot drop store", slog.Any("err", err))
		return s.fatal
	}
	stg, err := s.attach(true)
	if err != nil {
		s.fatal = &FatalError{Store: s.name, Op: "clear: recreate", Err: err}
		s.logger.LogAttrs(context.Background(), slog.LevelError, "countdb: cannot recreate store", slog.Any("err", err))
		return s.fatal
	}
	s.stg = stg
	s.stats.Clears.Add(1)
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "countdb: cleared")
	return nil
}

// Drop closes the store and destroys its data. The Store is unusable
// afterwards.
func (s *Store) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNoCursors("drop"); err != nil {
		return err
	}
	if err := s.detach(); err != nil {
		return storeErrf(s.name, nil, err, "drop: closing")
	}
	if err := s.eng.Destroy(s.name); err != nil {
		return storeErrf(s.name, nil, err, "drop")
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "countdb: dropped")
	return nil
}

// Close releases the engine handle. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNoCursors("close"); err != nil {
		return err
	}
	return s.detach()
}

func (s *Store) detach() error {
	if s.stg == nil {
		return nil
	}
	err := s.stg.Close()
	s.stg = nil
	return err
}

func (s *Store) addCursor(c *Cursor) {
	s.cursorsLock.Lock()
	defer s.cursorsLock.Unlock()
	s.cursors = append(s.cursors, c)
}

func (s *Store) removeCursor(c *Cursor) {
	s.cursorsLock.Lock()
	defer s.cursorsLock.Unlock()

	found := slices.Index(s.cursors, c)
	if found < 0 {
		panic("cursor not found in list")
	}

	n := len(s.cursors)
	s.cursors[found] = s.cursors[n-1]
	s.cursors[n-1] = nil // ensure it gets collected
	s.cursors = s.cursors[:n-1]
}

func (s *Store) checkNoCursors(op string) error {
	s.cursorsLock.Lock()
	n := len(s.cursors)
	s.cursorsLock.Unlock()
	if n > 0 {
		return storeErrf(s.name, nil, ErrCursorsOpen, "%s: %s", op, s.DescribeOpenCursors())
	}
	return nil
}

// DescribeOpenCursors lists cursors that have not been closed, oldest first.
func (s *Store) DescribeOpenCursors() string {
	s.cursorsLock.Lock()
	cursors := slices.Clone(s.cursors)
	s.cursorsLock.Unlock()

	if len(cursors) == 0 {
		return "no open cursors"
	}

	slices.SortFunc(cursors, func(a, b *Cursor) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d open cursors", len(cursors))
	for _, c := range cursors {
		fmt.Fprintf(&buf, "; open for %d ms", now.Sub(c.startTime).Milliseconds())
	}
	return buf.String()
}
