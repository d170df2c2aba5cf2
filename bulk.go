package countdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/andreyvit/countdb/interchange"
)

// WriteSnapshot streams every entry of the store, from one snapshot, in
// the snapshot interchange format. Returns the number of entries written.
func (s *Store) WriteSnapshot(w io.Writer, comp interchange.Compression) (int64, error) {
	created, err := s.Created()
	if err != nil {
		return 0, err
	}
	sw, err := interchange.NewSnapshotWriter(w, interchange.SnapshotInfo{
		Kind:        string(s.kind),
		Compression: comp,
		DigitBase:   DigitBase,
		DigitWidth:  DigitWidth,
		Created:     created,
	})
	if err != nil {
		return 0, err
	}

	err = s.View(func(tx *Tx) error {
		var werr error
		err := tx.Scan(dataRange(), func(k, v []byte) bool {
			werr = sw.Write(k, v)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
		return err
	})
	if err != nil {
		return sw.Count(), err
	}
	return sw.Count(), sw.Close()
}

// ExportSnapshotFile writes a snapshot to path atomically.
func (s *Store) ExportSnapshotFile(path string, comp interchange.Compression) (int64, error) {
	start := time.Now()
	var n int64
	err := interchange.WriteFile(path, func(w io.Writer) error {
		var err error
		n, err = s.WriteSnapshot(w, comp)
		return err
	})
	if err != nil {
		return n, storeErrf(s.name, nil, err, "export %s", path)
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "countdb: exported snapshot", slog.String("path", path), slog.Int64("entries", n), slog.String("compression", comp.String()), slog.Duration("dur", time.Since(start)))
	return n, nil
}

// ReadSnapshot adds every entry of a snapshot to the store, overwriting
// existing values. The snapshot must come from a store of the same kind and
// key codec, and every entry must decode; anything else fails with a
// *DataError. Entries are committed in batches, so a failure part way leaves
// the entries of earlier batches in place.
func (s *Store) ReadSnapshot(r io.Reader) (int64, error) {
	sr, err := interchange.NewSnapshotReader(r)
	if err != nil {
		return 0, err
	}
	defer sr.Close()

	info := sr.Info()
	if info.Kind != string(s.kind) {
		return 0, fmt.Errorf("snapshot holds a %s table, wanted %s: %w", info.Kind, s.kind, ErrIncompatible)
	}
	if info.DigitBase != DigitBase || info.DigitWidth != DigitWidth {
		return 0, fmt.Errorf("snapshot key codec base %d width %d: %w", info.DigitBase, info.DigitWidth, ErrIncompatible)
	}

	var n int64
	batch := make([]KV, 0, importBatchSize)
	for {
		batch = batch[:0]
		var eof bool
		for len(batch) < importBatchSize {
			k, v, err := sr.Next()
			if err == io.EOF {
				eof = true
				break
			} else if err != nil {
				return n, err
			}
			if err := checkEncodedEntry(k, v); err != nil {
				return n, fmt.Errorf("snapshot entry %d: %w", n+int64(len(batch)), err)
			}
			batch = append(batch, KV{cloneBytes(k), cloneBytes(v)})
		}

		// the batch is read before the transaction starts, so a conflict
		// retry replays the same entries
		if len(batch) > 0 {
			err := s.Update(func(tx *Tx) error {
				for _, kv := range batch {
					if err := tx.Put(kv.Key, kv.Value); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return n, err
			}
			n += int64(len(batch))
		}
		if eof {
			return n, nil
		}
	}
}

// ImportSnapshotFile reads a snapshot file into the store.
func (s *Store) ImportSnapshotFile(path string) (int64, error) {
	var n int64
	err := interchange.ReadFile(path, func(r io.Reader) error {
		var err error
		n, err = s.ReadSnapshot(r)
		return err
	})
	if err != nil {
		return n, storeErrf(s.name, nil, err, "import %s", path)
	}
	return n, nil
}
