package countdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/andreyvit/countdb/interchange"
)

const (
	// LexStoreSuffix is appended to the prefix to name a lexical store.
	LexStoreSuffix = "_ldb_hmm_lexnd"
	// LexLegacySuffix names the flat binary file of a lexical table.
	LexLegacySuffix = ".hmm_lexnd"

	importBatchSize = 1000
)

// LexTable holds lexical translation statistics: a denominator per source
// word s (key [s]) and a numerator per (s, t) pair, stored partner-first as
// [t s] so that all sources of a target form one contiguous range.
type LexTable struct {
	tableHandle
	prefix string
}

func LexStorePath(prefix string) string { return prefix + LexStoreSuffix }
func LexLegacyPath(prefix string) string { return prefix + LexLegacySuffix }

// InitLexTable creates an empty lexical table at prefix, discarding any
// previous store there.
func InitLexTable(prefix string, opt Options) (*LexTable, error) {
	s, err := Init(LexStorePath(prefix), KindLex, opt)
	if err != nil {
		return nil, err
	}
	return &LexTable{tableHandle{s}, prefix}, nil
}

// OpenLexTable attaches an existing lexical table without creating it.
func OpenLexTable(prefix string, opt Options) (*LexTable, error) {
	s, err := OpenExisting(LexStorePath(prefix), KindLex, opt)
	if err != nil {
		return nil, err
	}
	return &LexTable{tableHandle{s}, prefix}, nil
}

// LoadLexTable opens the store at prefix. If that fails, it builds a fresh
// store from the legacy binary file <prefix>.hmm_lexnd.
func LoadLexTable(prefix string, opt Options) (*LexTable, error) {
	lt, err := OpenLexTable(prefix, opt)
	if err == nil {
		return lt, nil
	}
	// Without a legacy file there is nothing to rebuild from; leave
	// whatever is at the store path alone.
	if _, statErr := os.Stat(LexLegacyPath(prefix)); statErr != nil {
		return nil, errors.Join(err, statErr)
	}
	opt.logger().LogAttrs(context.Background(), slog.LevelInfo, "countdb: no lexical store, trying legacy file", slog.String("prefix", prefix), slog.Any("err", err))
	lt, binErr := LoadLexTableBin(prefix, opt)
	if binErr != nil {
		return nil, errors.Join(err, binErr)
	}
	return lt, nil
}

// LoadLexTableBin creates a fresh store at prefix and fills it from the
// legacy binary file. On failure the half-built store is dropped.
func LoadLexTableBin(prefix string, opt Options) (*LexTable, error) {
	lt, err := InitLexTable(prefix, opt)
	if err != nil {
		return nil, err
	}
	path := LexLegacyPath(prefix)
	n, err := lt.ImportLegacyFile(path)
	if err != nil {
		lt.Drop()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	lt.store.logger.LogAttrs(context.Background(), slog.LevelInfo, "countdb: loaded legacy lexical file", slog.String("path", path), slog.Int64("records", n))
	return lt, nil
}

func (lt *LexTable) Prefix() string { return lt.prefix }

func lexDenomKey(tx *Tx, s uint32) []byte {
	tx.keyBuf = appendComponent(tx.keyBuf[:0], uint64(s))
	return tx.keyBuf
}

func lexNumerKey(tx *Tx, s, t uint32) []byte {
	tx.keyBuf = appendComponent(tx.keyBuf[:0], uint64(t))
	tx.keyBuf = appendComponent(tx.keyBuf, uint64(s))
	return tx.keyBuf
}

func (lt *LexTable) SetLexNumer(s, t uint32, numer float32) error {
	return lt.store.Update(func(tx *Tx) error {
		return tx.SetValue(lexNumerKey(tx, s, t), numer)
	})
}

func (lt *LexTable) LexNumer(s, t uint32) (numer float32, found bool, err error) {
	err = lt.store.View(func(tx *Tx) error {
		numer, found, err = tx.Value(lexNumerKey(tx, s, t))
		return err
	})
	return
}

func (lt *LexTable) SetLexDenom(s uint32, denom float32) error {
	return lt.store.Update(func(tx *Tx) error {
		return tx.SetValue(lexDenomKey(tx, s), denom)
	})
}

func (lt *LexTable) LexDenom(s uint32) (denom float32, found bool, err error) {
	err = lt.store.View(func(tx *Tx) error {
		denom, found, err = tx.Value(lexDenomKey(tx, s))
		return err
	})
	return
}

// SetLexNumDen writes the denominator of s and the numerator of (s, t) in
// one transaction: both become visible together or not at all.
func (lt *LexTable) SetLexNumDen(s, t uint32, numer, denom float32) error {
	return lt.store.Update(func(tx *Tx) error {
		return setLexNumDen(tx, s, t, numer, denom)
	})
}

func setLexNumDen(tx *Tx, s, t uint32, numer, denom float32) error {
	if err := tx.SetValue(lexDenomKey(tx, s), denom); err != nil {
		return err
	}
	return tx.SetValue(lexNumerKey(tx, s, t), numer)
}

// IncrLexNumer adds exp(logInc) to the log-domain numerator of (s, t).
func (lt *LexTable) IncrLexNumer(s, t uint32, logInc float64) error {
	return lt.store.Update(func(tx *Tx) error {
		_, err := tx.IncrementLog(lexNumerKey(tx, s, t), logInc)
		return err
	})
}

// IncrLexDenom adds exp(logInc) to the log-domain denominator of s.
func (lt *LexTable) IncrLexDenom(s uint32, logInc float64) error {
	return lt.store.Update(func(tx *Tx) error {
		_, err := tx.IncrementLog(lexDenomKey(tx, s), logInc)
		return err
	})
}

// PartnersOf returns every source s that has a numerator for target t. The
// scan covers [enc(t), enc(t+1)) and skips the denominator row [t] that
// shares the leading bytes.
func (lt *LexTable) PartnersOf(t uint32) (*roaring.Bitmap, error) {
	result := roaring.New()
	err := lt.store.View(func(tx *Tx) error {
		return tx.Scan(partnerRange(uint64(t)), func(k, v []byte) bool {
			if componentCount(k) < 2 {
				return true
			}
			key := DecodeKey(k)
			result.Add(key[len(key)-1])
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Size returns the number of denominator and numerator entries.
func (lt *LexTable) Size() (int, error) {
	return lt.store.Size()
}

// LexEntry is one decoded row of a lexical table. Denominator rows have
// IsDenom set and T zero.
type LexEntry struct {
	S       uint32
	T       uint32
	IsDenom bool
	Value   float32
}

// Begin returns a cursor over all rows in key order.
func (lt *LexTable) Begin() (*LexCursor, error) {
	c, err := lt.store.Begin()
	if err != nil {
		return nil, err
	}
	return &LexCursor{c: c}, nil
}

type LexCursor struct {
	c *Cursor
}

func (c *LexCursor) Next() bool { return c.c.Next() }
func (c *LexCursor) Err() error { return c.c.Err() }
func (c *LexCursor) Close() { c.c.Close() }

func (c *LexCursor) Entry() LexEntry {
	key := DecodeKey(c.c.Key())
	v := DecodeValue(c.c.Value())
	if len(key) == 1 {
		return LexEntry{S: key[0], IsDenom: true, Value: v}
	}
	return LexEntry{S: key[len(key)-1], T: key[0], Value: v}
}

// Records calls f for every (s, t) numerator in store order together with
// the denominator of s, all from one snapshot. A missing denominator is
// reported as zero.
func (lt *LexTable) Records(f func(r interchange.LexRecord) error) error {
	return lt.store.View(func(tx *Tx) error {
		var ferr error
		err := tx.Scan(dataRange(), func(k, v []byte) bool {
			if componentCount(k) != 2 {
				return true
			}
			key := DecodeKey(k)
			s, t := key[1], key[0]
			denom, _, err := tx.Value(lexDenomKey(tx, s))
			if err != nil {
				ferr = err
				return false
			}
			ferr = f(interchange.LexRecord{S: s, T: t, Numer: DecodeValue(v), Denom: denom})
			return ferr == nil
		})
		if ferr != nil {
			return ferr
		}
		return err
	})
}

// PrintBin writes every numerator as a legacy binary record.
func (lt *LexTable) PrintBin(w io.Writer) (int64, error) {
	lw := interchange.NewLexWriter(w)
	if err := lt.Records(lw.Write); err != nil {
		return lw.Count(), err
	}
	return lw.Count(), lw.Flush()
}

// PrintText writes every numerator as a "s t numer denom" line.
func (lt *LexTable) PrintText(w io.Writer) (int64, error) {
	tw := interchange.NewLexTextWriter(w)
	if err := lt.Records(tw.Write); err != nil {
		return tw.Count(), err
	}
	return tw.Count(), tw.Flush()
}

// Print exports the table to the legacy file <prefix>.hmm_lexnd, as binary
// records or as text.
func (lt *LexTable) Print(prefix string, text bool) (int64, error) {
	var n int64
	err := interchange.WriteFile(LexLegacyPath(prefix), func(w io.Writer) error {
		var err error
		if text {
			n, err = lt.PrintText(w)
		} else {
			n, err = lt.PrintBin(w)
		}
		return err
	})
	return n, err
}

// ImportLegacyFile adds every record of a legacy binary file with
// SetLexNumDen semantics.
func (lt *LexTable) ImportLegacyFile(path string) (int64, error) {
	b := lt.newImportBatch()
	n, err := interchange.ReadLexFile(path, b.add)
	if err != nil {
		return n, err
	}
	return n, b.flush()
}

// LoadText adds every record of the text rendering read from r.
func (lt *LexTable) LoadText(r io.Reader) (int64, error) {
	b := lt.newImportBatch()
	n, err := interchange.ReadLexText(r, b.add)
	if err != nil {
		return n, err
	}
	return n, b.flush()
}

type lexImportBatch struct {
	lt      *LexTable
	pending []interchange.LexRecord
}

func (lt *LexTable) newImportBatch() *lexImportBatch {
	return &lexImportBatch{lt: lt, pending: make([]interchange.LexRecord, 0, importBatchSize)}
}

func (b *lexImportBatch) add(r interchange.LexRecord) error {
	b.pending = append(b.pending, r)
	if len(b.pending) >= importBatchSize {
		return b.flush()
	}
	return nil
}

func (b *lexImportBatch) flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	err := b.lt.store.Update(func(tx *Tx) error {
		for _, r := range b.pending {
			if err := setLexNumDen(tx, r.S, r.T, r.Numer, r.Denom); err != nil {
				return err
			}
		}
		return nil
	})
	b.pending = b.pending[:0]
	return err
}
