package countdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/andreyvit/countdb/interchange"
)

const (
	// PhraseStoreSuffix is appended to the prefix to name a phrase store.
	PhraseStoreSuffix = "_ldb_phrtab"
	// PhraseSnapshotSuffix names the snapshot a phrase table is rebuilt
	// from when no store exists.
	PhraseSnapshotSuffix = "_ldb_phrtab.snap"
)

// Role markers lead the non-joint rows of a phrase table. Both are above the
// entity index range, so they sort after every joint row and never collide
// with a target index.
const (
	srcMarker   uint64 = 1 << 32
	bySrcMarker uint64 = 1<<32 + 1
)

// PhraseTable holds phrase pair statistics for source phrases s (sequences
// of entity indices) and single target indices t:
//
//	[t] ++ s              joint count of (s, t)
//	[src] ++ s            marginal count of s
//	[bysrc] ++ s ++ [t]   copy of the joint count, for scans by source
//
// The copy is written in the same transaction as the joint row.
type PhraseTable struct {
	tableHandle
	prefix string
}

func PhraseStorePath(prefix string) string { return prefix + PhraseStoreSuffix }
func PhraseSnapshotPath(prefix string) string { return prefix + PhraseSnapshotSuffix }

// InitPhraseTable creates an empty phrase table at prefix, discarding any
// previous store there.
func InitPhraseTable(prefix string, opt Options) (*PhraseTable, error) {
	s, err := Init(PhraseStorePath(prefix), KindPhrase, opt)
	if err != nil {
		return nil, err
	}
	return &PhraseTable{tableHandle{s}, prefix}, nil
}

// OpenPhraseTable attaches an existing phrase table without creating it.
func OpenPhraseTable(prefix string, opt Options) (*PhraseTable, error) {
	s, err := OpenExisting(PhraseStorePath(prefix), KindPhrase, opt)
	if err != nil {
		return nil, err
	}
	return &PhraseTable{tableHandle{s}, prefix}, nil
}

// LoadPhraseTable opens the store at prefix, falling back to rebuilding it
// from the snapshot <prefix>_ldb_phrtab.snap.
func LoadPhraseTable(prefix string, opt Options) (*PhraseTable, error) {
	pt, err := OpenPhraseTable(prefix, opt)
	if err == nil {
		return pt, nil
	}
	snap := PhraseSnapshotPath(prefix)
	if _, statErr := os.Stat(snap); statErr != nil {
		return nil, errors.Join(err, statErr)
	}
	opt.logger().LogAttrs(context.Background(), slog.LevelInfo, "countdb: no phrase store, restoring snapshot", slog.String("prefix", prefix), slog.Any("err", err))

	pt, err = InitPhraseTable(prefix, opt)
	if err != nil {
		return nil, err
	}
	n, err := pt.store.ImportSnapshotFile(snap)
	if err != nil {
		pt.Drop()
		return nil, fmt.Errorf("loading %s: %w", snap, err)
	}
	pt.store.logger.LogAttrs(context.Background(), slog.LevelInfo, "countdb: restored phrase snapshot", slog.String("path", snap), slog.Int64("entries", n))
	return pt, nil
}

// Save writes a snapshot to <prefix>_ldb_phrtab.snap.
func (pt *PhraseTable) Save(prefix string, comp interchange.Compression) (int64, error) {
	return pt.store.ExportSnapshotFile(PhraseSnapshotPath(prefix), comp)
}

func (pt *PhraseTable) Prefix() string { return pt.prefix }

func phraseJointKey(buf []byte, s Key, t uint32) []byte {
	buf = appendComponent(buf[:0], uint64(t))
	return AppendKey(buf, s)
}

func phraseSrcKey(buf []byte, s Key) []byte {
	buf = appendComponent(buf[:0], srcMarker)
	return AppendKey(buf, s)
}

func phraseBySrcKey(buf []byte, s Key, t uint32) []byte {
	buf = appendComponent(buf[:0], bySrcMarker)
	buf = AppendKey(buf, s)
	return appendComponent(buf, uint64(t))
}

func checkSource(s Key) error {
	if len(s) == 0 {
		return errors.New("countdb: empty source phrase")
	}
	return nil
}

// setJoint writes the joint count of (s, t) and its by-source copy.
func setJoint(tx *Tx, s Key, t uint32, v float32) error {
	var buf [64]byte
	if err := tx.SetValue(phraseJointKey(buf[:0], s, t), v); err != nil {
		return err
	}
	return tx.SetValue(phraseBySrcKey(buf[:0], s, t), v)
}

func getJoint(tx *Tx, s Key, t uint32) (float32, bool, error) {
	var buf [64]byte
	return tx.Value(phraseJointKey(buf[:0], s, t))
}

func getSrc(tx *Tx, s Key) (float32, bool, error) {
	var buf [64]byte
	return tx.Value(phraseSrcKey(buf[:0], s))
}

func setSrc(tx *Tx, s Key, v float32) error {
	var buf [64]byte
	return tx.SetValue(phraseSrcKey(buf[:0], s), v)
}

// AddSrcInfo sets the marginal count of s.
func (pt *PhraseTable) AddSrcInfo(s Key, count float32) error {
	if err := checkSource(s); err != nil {
		return err
	}
	return pt.store.Update(func(tx *Tx) error {
		return setSrc(tx, s, count)
	})
}

// SrcInfo returns the marginal count of s.
func (pt *PhraseTable) SrcInfo(s Key) (count float32, found bool, err error) {
	if err := checkSource(s); err != nil {
		return 0, false, err
	}
	err = pt.store.View(func(tx *Tx) error {
		count, found, err = getSrc(tx, s)
		return err
	})
	return count, found, err
}

// AddSrcTrgInfo sets the joint count of (s, t).
func (pt *PhraseTable) AddSrcTrgInfo(s Key, t uint32, count float32) error {
	if err := checkSource(s); err != nil {
		return err
	}
	return pt.store.Update(func(tx *Tx) error {
		return setJoint(tx, s, t, count)
	})
}

// SrcTrgInfo returns the joint count of (s, t).
func (pt *PhraseTable) SrcTrgInfo(s Key, t uint32) (count float32, found bool, err error) {
	if err := checkSource(s); err != nil {
		return 0, false, err
	}
	err = pt.store.View(func(tx *Tx) error {
		count, found, err = getJoint(tx, s, t)
		return err
	})
	return count, found, err
}

// AddTableEntry sets both the marginal count of s and the joint count of
// (s, t) in one transaction.
func (pt *PhraseTable) AddTableEntry(s Key, t uint32, srcCount, jointCount float32) error {
	if err := checkSource(s); err != nil {
		return err
	}
	return pt.store.Update(func(tx *Tx) error {
		if err := setSrc(tx, s, srcCount); err != nil {
			return err
		}
		return setJoint(tx, s, t, jointCount)
	})
}

// IncrCountsOfEntry adds c to both the marginal count of s and the joint
// count of (s, t).
func (pt *PhraseTable) IncrCountsOfEntry(s Key, t uint32, c float32) error {
	if err := checkSource(s); err != nil {
		return err
	}
	return pt.store.Update(func(tx *Tx) error {
		src, _, err := getSrc(tx, s)
		if err != nil {
			return err
		}
		joint, _, err := getJoint(tx, s, t)
		if err != nil {
			return err
		}
		if err := setSrc(tx, s, src+c); err != nil {
			return err
		}
		return setJoint(tx, s, t, joint+c)
	})
}

// IncrCountsOfEntryLog adds exp(logC) to the joint count of (s, t), doing
// the addition in the log domain. The marginal of s is left alone.
func (pt *PhraseTable) IncrCountsOfEntryLog(s Key, t uint32, logC float64) error {
	if err := checkSource(s); err != nil {
		return err
	}
	return pt.store.Update(func(tx *Tx) error {
		var buf [64]byte
		nv, err := tx.AccumulateLog(phraseJointKey(buf[:0], s, t), logC)
		if err != nil {
			return err
		}
		return tx.SetValue(phraseBySrcKey(buf[:0], s, t), nv)
	})
}

// EntriesForTarget returns every source phrase with a joint count for t, in
// key order. found is false when there are none.
func (pt *PhraseTable) EntriesForTarget(t uint32) (entries []SourceCount, found bool, err error) {
	err = pt.store.View(func(tx *Tx) error {
		return tx.Scan(partnerRange(uint64(t)), func(k, v []byte) bool {
			if componentCount(k) < 2 {
				return true
			}
			entries = append(entries, SourceCount{
				Source: DecodeKey(k[DigitWidth:]),
				Count:  DecodeValue(v),
			})
			return true
		})
	})
	if err != nil {
		return nil, false, err
	}
	return entries, len(entries) > 0, nil
}

// TrgCount returns the total joint count of t over all sources.
func (pt *PhraseTable) TrgCount(t uint32) (float32, bool, error) {
	entries, found, err := pt.EntriesForTarget(t)
	if err != nil || !found {
		return 0, false, err
	}
	return sumCounts(entries), true, nil
}

// EntriesForSource returns every target with a joint count for s, ordered by
// target index. A source without a marginal count yields nothing, even if
// joint rows exist for it.
func (pt *PhraseTable) EntriesForSource(s Key) (entries []TargetCount, found bool, err error) {
	if err := checkSource(s); err != nil {
		return nil, false, err
	}
	wantComps := 1 + len(s) + 1
	err = pt.store.View(func(tx *Tx) error {
		_, hasSrc, err := getSrc(tx, s)
		if err != nil || !hasSrc {
			return err
		}
		prefix := AppendKey(appendComponent(nil, bySrcMarker), s)
		return tx.Scan(RawPrefix(prefix), func(k, v []byte) bool {
			if componentCount(k) != wantComps {
				return true
			}
			entries = append(entries, TargetCount{
				Target: uint32(decodeComponent(k[len(k)-DigitWidth:])),
				Count:  DecodeValue(v),
			})
			return true
		})
	})
	if err != nil {
		return nil, false, err
	}
	return entries, len(entries) > 0, nil
}

// TopKPartners returns the k targets of s with the highest joint counts,
// highest first, ties broken by ascending target index. k <= 0 returns all.
func (pt *PhraseTable) TopKPartners(s Key, k int) ([]TargetCount, error) {
	entries, _, err := pt.EntriesForSource(s)
	if err != nil {
		return nil, err
	}
	return topK(entries, k), nil
}

// statsRange covers the joint and marginal rows, leaving out the by-source
// copies that sort after them.
func phraseStatsRange() RawRange {
	r := dataRange()
	r.Upper = appendComponent(nil, bySrcMarker)
	return r
}

// Size returns the number of marginal and joint rows.
func (pt *PhraseTable) Size() (int, error) {
	return pt.store.CountRange(phraseStatsRange())
}

// PhraseEntry is one decoded row of a phrase table. Marginal rows have
// IsMarginal set and Target zero.
type PhraseEntry struct {
	Source     Key
	Target     uint32
	IsMarginal bool
	Count      float32
}

// Begin returns a cursor over all marginal and joint rows in key order:
// joint rows by target first, then source marginals.
func (pt *PhraseTable) Begin() (*PhraseCursor, error) {
	c, err := pt.store.BeginRange(phraseStatsRange())
	if err != nil {
		return nil, err
	}
	return &PhraseCursor{c: c}, nil
}

type PhraseCursor struct {
	c *Cursor
}

func (c *PhraseCursor) Next() bool { return c.c.Next() }
func (c *PhraseCursor) Err() error { return c.c.Err() }
func (c *PhraseCursor) Close() { c.c.Close() }

func (c *PhraseCursor) Entry() PhraseEntry {
	k := c.c.Key()
	lead := decodeComponent(k)
	e := PhraseEntry{
		Source: DecodeKey(k[DigitWidth:]),
		Count:  DecodeValue(c.c.Value()),
	}
	if lead == srcMarker {
		e.IsMarginal = true
	} else {
		e.Target = uint32(lead)
	}
	return e
}

// Entries returns every marginal and joint row.
func (pt *PhraseTable) Entries() ([]PhraseEntry, error) {
	c, err := pt.Begin()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	var result []PhraseEntry
	for c.Next() {
		result = append(result, c.Entry())
	}
	return result, c.Err()
}
