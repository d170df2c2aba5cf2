package countdb

import "fmt"

// engine creates, attaches and destroys storages at a file system path.
type engine interface {
	Name() Engine
	// Exists reports whether something that looks like a store lives at path.
	Exists(path string) bool
	// Open attaches the store at path, creating it when create is true.
	Open(path string, opt *Options, create bool) (storage, error)
	// Destroy removes all persisted data at path. Must succeed when nothing
	// exists.
	Destroy(path string) error
	// ReadersBlockWriters reports whether an open read transaction can stall
	// commits indefinitely. Stores on such engines refuse writes while
	// cursors are open.
	ReadersBlockWriters() bool
}

func engineFor(opt *Options) (engine, error) {
	switch opt.Engine {
	case EngineBadger, "":
		return badgerEngine{}, nil
	case EngineBolt:
		return boltEngine{}, nil
	case EngineMemory:
		return defaultMemEngine, nil
	default:
		return nil, fmt.Errorf("countdb: unknown engine %q", opt.Engine)
	}
}

// storage represents an attached ordered key-value store (Badger, Bolt,
// in-memory).
type storage interface {
	// BeginTx starts a new transaction. Read transactions observe a
	// consistent snapshot.
	BeginTx(writable bool) (storageTx, error)
	// Close releases the handle and every cache and filter tied to it.
	Close() error
}

// storageTx represents a storage transaction over a single sorted keyspace.
type storageTx interface {
	Writable() bool

	// Get retrieves a value by key. Returns nil if not found. The returned
	// slice is only valid until the transaction ends.
	Get(key []byte) ([]byte, error)

	Put(key, value []byte) error

	Delete(key []byte) error

	// Cursor returns a forward cursor. It must be closed before the
	// transaction ends.
	Cursor() storageCursor

	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple
	// times and after Commit.
	Rollback() error
}

// storageCursor iterates forward over a sorted keyspace. Returned slices are
// only valid until the next call.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Err reports a failure that ended iteration early.
	Err() error

	Close()
}
