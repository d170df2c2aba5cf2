package countdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

type badgerEngine struct{}

func (badgerEngine) Name() Engine { return EngineBadger }

func (badgerEngine) ReadersBlockWriters() bool { return false }

func (badgerEngine) Exists(path string) bool {
	st, err := os.Stat(filepath.Join(path, badger.ManifestFilename))
	return err == nil && st.Mode().IsRegular()
}

func (e badgerEngine) Open(path string, opt *Options, create bool) (storage, error) {
	if path == "" {
		return nil, errors.New("badger: path is required")
	}
	if create {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("badger: create directory %s: %w", path, err)
		}
	} else if !e.Exists(path) {
		return nil, ErrNotFound
	}

	bopt := badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithSyncWrites(opt.SyncWrites && !opt.IsTesting).
		WithBlockCacheSize(opt.BlockCacheSize).
		WithIndexCacheSize(opt.IndexCacheSize).
		WithBloomFalsePositive(opt.bloomFalsePositive()).
		WithLogger(&badgerLogger{logger: opt.logger(), verbose: opt.Verbose})
	if opt.IsTesting {
		bopt = bopt.WithMemTableSize(4 << 20).WithValueLogFileSize(16 << 20)
	}

	bdb, err := badger.Open(bopt)
	if err != nil {
		return nil, fmt.Errorf("badger: %w", err)
	}
	return &badgerStorage{bdb: bdb}, nil
}

func (badgerEngine) Destroy(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}

// badgerLogger adapts slog.Logger to badger's Logger interface. Badger is
// chatty at info level, so info and debug only pass through when verbose.
type badgerLogger struct {
	logger  *slog.Logger
	verbose bool
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.LogAttrs(context.Background(), slog.LevelError, "badger: "+trimNewline(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.LogAttrs(context.Background(), slog.LevelWarn, "badger: "+trimNewline(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	if l.verbose {
		l.logger.LogAttrs(context.Background(), slog.LevelInfo, "badger: "+trimNewline(fmt.Sprintf(format, args...)))
	}
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	if l.verbose {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "badger: "+trimNewline(fmt.Sprintf(format, args...)))
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}

type badgerStorage struct {
	bdb *badger.DB
}

func (s *badgerStorage) BeginTx(writable bool) (storageTx, error) {
	if s.bdb.IsClosed() {
		return nil, ErrClosed
	}
	return &badgerStorageTx{txn: s.bdb.NewTransaction(writable), writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return s.bdb.Close()
}

type badgerStorageTx struct {
	txn      *badger.Txn
	writable bool
}

func (tx *badgerStorageTx) Writable() bool { return tx.writable }

func (tx *badgerStorageTx) Get(key []byte) ([]byte, error) {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Badger keeps references to key and value until commit.
func (tx *badgerStorageTx) Put(key, value []byte) error {
	return tx.txn.Set(cloneBytes(key), cloneBytes(value))
}

func (tx *badgerStorageTx) Delete(key []byte) error {
	return tx.txn.Delete(cloneBytes(key))
}

func (tx *badgerStorageTx) Cursor() storageCursor {
	iopt := badger.DefaultIteratorOptions
	iopt.PrefetchSize = 256
	return &badgerCursor{it: tx.txn.NewIterator(iopt)}
}

func (tx *badgerStorageTx) Commit() error {
	return tx.txn.Commit()
}

func (tx *badgerStorageTx) Rollback() error {
	tx.txn.Discard()
	return nil
}

type badgerCursor struct {
	it   *badger.Iterator
	k, v []byte
	err  error
}

func (c *badgerCursor) First() ([]byte, []byte) {
	c.it.Rewind()
	return c.current()
}

func (c *badgerCursor) Seek(seek []byte) ([]byte, []byte) {
	c.it.Seek(seek)
	return c.current()
}

func (c *badgerCursor) Next() ([]byte, []byte) {
	c.it.Next()
	return c.current()
}

func (c *badgerCursor) current() ([]byte, []byte) {
	if c.err != nil || !c.it.Valid() {
		return nil, nil
	}
	item := c.it.Item()
	c.k = item.KeyCopy(c.k[:0])
	v, err := item.ValueCopy(c.v[:0])
	if err != nil {
		c.err = err
		return nil, nil
	}
	c.v = v
	return c.k, c.v
}

func (c *badgerCursor) Err() error { return c.err }

func (c *badgerCursor) Close() {
	if c.it != nil {
		c.it.Close()
		c.it = nil
	}
}
