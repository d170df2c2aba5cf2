package countdb

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

var testEngines = []Engine{EngineBadger, EngineBolt, EngineMemory}

// eachEngine runs f once per storage engine with a fresh store path.
func eachEngine(t *testing.T, f func(t *testing.T, opt Options, path string)) {
	for _, eng := range testEngines {
		t.Run(string(eng), func(t *testing.T) {
			opt := TestingOptions(eng)
			path := filepath.Join(t.TempDir(), "store")
			t.Cleanup(func() { Drop(path, opt) })
			f(t, opt, path)
		})
	}
}

func setup(t testing.TB, opt Options, path string, kind Kind) *Store {
	t.Helper()
	s := must(Init(path, kind, opt))
	t.Cleanup(func() { s.Close() })
	return s
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isErr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func readersBlockWriters(opt Options) bool {
	return must(engineFor(&opt)).ReadersBlockWriters()
}

func k(comps ...uint32) []byte {
	return EncodeKey(Key(comps))
}

func TestStore_GetPutDeleteScan(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)

		ensure(s.Put(k(1), EncodeValue(1)))
		ensure(s.Put(k(1, 5), EncodeValue(2)))
		ensure(s.Put(k(2), EncodeValue(3)))
		ensure(s.Put(k(1, 2), EncodeValue(4)))

		v, found, err := s.Get(k(1, 5))
		ensure(err)
		deepEqual(t, found, true)
		deepEqual(t, DecodeValue(v), float32(2))

		_, found, err = s.Get(k(9))
		ensure(err)
		deepEqual(t, found, false)

		lo, hi := leadingBound(1)
		kvs := must(s.Scan(lo, hi))
		var keys []string
		for _, kv := range kvs {
			keys = append(keys, DecodeKeyString(kv.Key))
		}
		deepEqual(t, keys, []string{"[1]", "[1 2]", "[1 5]"})

		deepEqual(t, len(must(s.Scan(nil, nil))), 4)
		deepEqual(t, must(s.Size()), 4)

		ensure(s.Delete(k(1, 2)))
		deepEqual(t, must(s.Size()), 3)
		_, found, _ = s.Get(k(1, 2))
		deepEqual(t, found, false)
	})
}

func TestStore_PutRejectsReservedKeys(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		if err := s.Put(metaKey, []byte{1}); err == nil {
			t.Fatalf("Put(metaKey) succeeded, wanted error")
		}
		if err := s.Put(nil, []byte{1}); err == nil {
			t.Fatalf("Put(nil) succeeded, wanted error")
		}
		deepEqual(t, must(s.Size()), 0)
	})
}

func TestStore_Reopen(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := must(Init(path, KindRaw, opt))
		ensure(s.Put(k(3, 4), EncodeValue(0.25)))
		created := must(s.Created())
		ensure(s.Close())
		ensure(s.Close())

		_, _, err := s.Get(k(3, 4))
		isErr(t, err, ErrClosed)

		deepEqual(t, Exists(path, opt), true)
		s = must(OpenExisting(path, KindRaw, opt))
		defer s.Close()
		v, found, err := s.Get(k(3, 4))
		ensure(err)
		deepEqual(t, found, true)
		deepEqual(t, DecodeValue(v), float32(0.25))
		deepEqual(t, must(s.Created()).Equal(created), true)
	})
}

func TestStore_OpenMissing(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		_, err := OpenExisting(path, KindRaw, opt)
		isErr(t, err, ErrNotFound)
		deepEqual(t, Exists(path, opt), false)

		opt.CreateIfMissing = false
		_, err = Open(path, KindRaw, opt)
		isErr(t, err, ErrNotFound)

		opt.CreateIfMissing = true
		s := must(Open(path, KindRaw, opt))
		ensure(s.Close())
		deepEqual(t, Exists(path, opt), true)
	})
}

func TestStore_KindMismatch(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := must(Init(path, KindLex, opt))
		ensure(s.Close())

		_, err := OpenExisting(path, KindPhrase, opt)
		isErr(t, err, ErrIncompatible)
		if err == nil || !strings.Contains(err.Error(), "holds a lex table, wanted phrase") {
			t.Errorf("** got %v", err)
		}

		s = must(OpenExisting(path, KindLex, opt))
		ensure(s.Close())
	})
}

func TestStore_MissingMetadata(t *testing.T) {
	opt := TestingOptions(EngineMemory)
	path := filepath.Join(t.TempDir(), "nometa")
	defer Drop(path, opt)

	stg := must(defaultMemEngine.Open(path, &opt, true))
	stx := must(stg.BeginTx(true))
	ensure(stx.Put(k(1), EncodeValue(1)))
	ensure(stx.Commit())
	ensure(stg.Close())

	_, err := OpenExisting(path, KindRaw, opt)
	isErr(t, err, ErrIncompatible)

	// Init discards whatever is there.
	s := must(Init(path, KindRaw, opt))
	defer s.Close()
	deepEqual(t, must(s.Size()), 0)
}

func TestStore_Clear(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		for i := uint32(0); i < 10; i++ {
			ensure(s.Put(k(i, i+1), EncodeValue(float32(i))))
		}
		deepEqual(t, must(s.Size()), 10)

		ensure(s.Clear())
		deepEqual(t, must(s.Size()), 0)
		for i := uint32(0); i < 10; i++ {
			_, found, err := s.Get(k(i, i+1))
			ensure(err)
			deepEqual(t, found, false)
		}
		deepEqual(t, s.Stats().Clears, int64(1))

		// still usable and still the same kind
		ensure(s.Put(k(1), EncodeValue(1)))
		deepEqual(t, must(s.Size()), 1)
		ensure(s.Close())
		s2 := must(OpenExisting(path, KindRaw, opt))
		deepEqual(t, must(s2.Size()), 1)
		ensure(s2.Close())
	})
}

func TestStore_ClearWithoutNameIsNoop(t *testing.T) {
	var s Store
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() = %v, wanted nil", err)
	}
}

// failingEngine wraps an engine and fails every Open.
type failingEngine struct {
	engine
}

func (failingEngine) Open(path string, opt *Options, create bool) (storage, error) {
	return nil, errors.New("disk on fire")
}

func TestStore_ClearRecreateFailureIsFatal(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		ensure(s.Put(k(1), EncodeValue(1)))

		s.eng = failingEngine{s.eng}
		err := s.Clear()
		if !IsFatal(err) {
			t.Fatalf("Clear() = %v, wanted *FatalError", err)
		}
		if !strings.Contains(err.Error(), "disk on fire") {
			t.Errorf("** got %v", err)
		}

		_, _, err2 := s.Get(k(1))
		deepEqual(t, err2, err)
		deepEqual(t, s.Put(k(1), EncodeValue(1)), err)
		deepEqual(t, s.Clear(), err)
		_, err2 = s.Begin()
		deepEqual(t, err2, err)
	})
}

func TestStore_OpenCursorBlocksClear(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		ensure(s.Put(k(1), EncodeValue(1)))

		c := must(s.Begin())
		if err := s.Clear(); err == nil || !strings.Contains(err.Error(), "1 open cursors") {
			t.Fatalf("Clear() with open cursor = %v, wanted error", err)
		}
		isErr(t, s.Clear(), ErrCursorsOpen)
		if err := s.Close(); err == nil {
			t.Fatalf("Close() with open cursor succeeded")
		}
		if !strings.Contains(s.DescribeOpenCursors(), "1 open cursors") {
			t.Errorf("** DescribeOpenCursors = %q", s.DescribeOpenCursors())
		}
		c.Close()
		c.Close()

		deepEqual(t, s.DescribeOpenCursors(), "no open cursors")
		ensure(s.Clear())
		deepEqual(t, must(s.Size()), 0)
	})
}

func TestStore_CursorSnapshot(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		ensure(s.Put(k(1), EncodeValue(1)))
		ensure(s.Put(k(2), EncodeValue(2)))

		c := must(s.Begin())
		defer c.Close()
		if !readersBlockWriters(opt) {
			ensure(s.Put(k(3), EncodeValue(3)))
		}

		var keys []string
		for c.Next() {
			keys = append(keys, DecodeKeyString(c.Key()))
		}
		ensure(c.Err())
		deepEqual(t, keys, []string{"[1]", "[2]"})
		deepEqual(t, c.Next(), false)
	})
}

func TestStore_WritesWithOpenCursor(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		tbl := must(InitTable(path, opt))
		defer tbl.Close()
		ensure(tbl.SetCount(Key{1}, 1))

		c := must(tbl.Begin())
		done := make(chan error, 1)
		go func() {
			var err error
			for i := 0; i < 2000 && err == nil; i++ {
				err = tbl.IncrementLog(Key{2, uint32(i)}, -1)
			}
			done <- err
		}()

		select {
		case err := <-done:
			if readersBlockWriters(opt) {
				isErr(t, err, ErrCursorsOpen)
			} else {
				ensure(err)
			}
		case <-time.After(30 * time.Second):
			t.Fatalf("writes stalled behind an open cursor")
		}
		c.Close()

		ensure(tbl.IncrementLog(Key{3}, -1))
		_, found, err := tbl.Count(Key{3})
		ensure(err)
		deepEqual(t, found, true)
	})
}

func TestStore_ScanSkipsMetadata(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		ensure(s.Put(k(1), EncodeValue(1)))

		for _, lo := range [][]byte{nil, {}, {0}, metaKey} {
			kvs := must(s.Scan(lo, nil))
			deepEqual(t, len(kvs), 1)
			deepEqual(t, kvs[0].Key, k(1))
		}
		isempty(t, must(s.Scan([]byte{0}, []byte{1})))
	})
}

func TestStore_Drop(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := must(Init(path, KindRaw, opt))
		ensure(s.Put(k(1), EncodeValue(1)))
		ensure(s.Drop())
		deepEqual(t, Exists(path, opt), false)

		_, err := OpenExisting(path, KindRaw, opt)
		isErr(t, err, ErrNotFound)

		ensure(Drop(path, opt))
		ensure(Drop("", opt))
	})
}

func TestUpdate_ErrorRollsBack(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		boom := errors.New("boom")
		err := s.Update(func(tx *Tx) error {
			ensure(tx.Put(k(1), EncodeValue(1)))
			return boom
		})
		isErr(t, err, boom)
		deepEqual(t, must(s.Size()), 0)
		deepEqual(t, s.Stats().Commits, int64(0))
	})
}

func TestUpdate_PanicBecomesError(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		err := s.Update(func(tx *Tx) error {
			ensure(tx.Put(k(1), EncodeValue(1)))
			DecodeKey([]byte{1, 2, 3})
			return nil
		})
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("Update() = %v, wanted wrapped *DataError", err)
		}
		if !strings.Contains(err.Error(), "panic: ") {
			t.Errorf("** got %v", err)
		}
		deepEqual(t, must(s.Size()), 0)
	})
}

func TestView_IsReadOnly(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		s := setup(t, opt, path, KindRaw)
		ensure(s.View(func(tx *Tx) error {
			deepEqual(t, tx.IsWritable(), false)
			deepEqual(t, tx.Store(), s)
			return nil
		}))
		ensure(s.Update(func(tx *Tx) error {
			deepEqual(t, tx.IsWritable(), true)
			return nil
		}))
		// an Update that writes nothing does not commit
		deepEqual(t, s.Stats().Commits, int64(0))
	})
}

func TestOptions(t *testing.T) {
	opt := DefaultOptions()
	ensure(opt.Validate())
	deepEqual(t, opt.Engine, EngineBadger)
	deepEqual(t, opt.bloomFalsePositive(), 0.6185)

	opt.BloomBitsPerKey = 0
	deepEqual(t, opt.bloomFalsePositive(), 0.0)

	opt.Engine = "leveldb"
	if opt.Validate() == nil {
		t.Errorf("Validate accepted unknown engine")
	}
	opt = DefaultOptions()
	opt.MaxOpenFiles = -1
	if opt.Validate() == nil {
		t.Errorf("Validate accepted negative max_open_files")
	}

	path := filepath.Join(t.TempDir(), "countdb.yaml")
	ensure(os.WriteFile(path, []byte("engine: bolt\nmax_open_files: 100\nblock_cache_size: 1048576\nbloom_bits_per_key: 10\nsync_writes: true\n"), 0o644))
	opt = must(LoadOptionsFile(path))
	deepEqual(t, opt.Engine, EngineBolt)
	deepEqual(t, opt.MaxOpenFiles, 100)
	deepEqual(t, opt.BlockCacheSize, int64(1048576))
	deepEqual(t, opt.BloomBitsPerKey, 10)
	deepEqual(t, opt.SyncWrites, true)
	deepEqual(t, opt.CreateIfMissing, true)

	ensure(os.WriteFile(path, []byte("engine: rocks\n"), 0o644))
	if _, err := LoadOptionsFile(path); err == nil {
		t.Errorf("LoadOptionsFile accepted unknown engine")
	}
	if _, err := LoadOptionsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("LoadOptionsFile accepted missing file")
	}
}

func TestStore_CreatedIsRecent(t *testing.T) {
	eachEngine(t, func(t *testing.T, opt Options, path string) {
		before := time.Now().Add(-time.Second)
		s := setup(t, opt, path, KindRaw)
		created := must(s.Created())
		if created.Before(before) || created.After(time.Now().Add(time.Second)) {
			t.Errorf("** Created = %v", created)
		}
	})
}
