package countdb

import (
	"fmt"
	"strconv"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpStats
	DumpRows
	DumpRawKeys

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the store for debugging: a header with the entry count,
// the operation counters, then one line per entry with the decoded key and
// value. Role markers print as "src" and "bysrc".
func (s *Store) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	err := s.View(func(tx *Tx) error {
		return tx.dump(&buf, f)
	})
	return buf.String(), err
}

func (tx *Tx) dump(w *strings.Builder, f DumpFlags) error {
	s := tx.store
	var rows []string
	err := tx.Scan(dataRange(), func(k, v []byte) bool {
		if !f.Contains(DumpRows) {
			rows = append(rows, "")
			return true
		}
		line := DecodeKeyString(k) + " = " + formatValue(v)
		if f.Contains(DumpRawKeys) {
			line += "  (" + keyHex(k) + ")"
		}
		rows = append(rows, line)
		return true
	})
	if err != nil {
		return err
	}

	if f.Contains(DumpHeader) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%s, %d rows)\n", s.name, s.kind, len(rows))
	}
	if f.Contains(DumpStats) {
		st := s.Stats()
		fmt.Fprintf(w, "%s.stats: gets = %d, puts = %d, deletes = %d, scans = %d, scanned = %d, commits = %d, clears = %d\n", s.name, st.Gets, st.Puts, st.Deletes, st.Scans, st.ScannedEntries, st.Commits, st.Clears)
	}
	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) || f.Contains(DumpHeader) {
			fmt.Fprintln(w, dumpSep2)
		}
		for i, line := range rows {
			fmt.Fprintf(w, "%s.%d: %s\n", s.name, i+1, line)
		}
	}
	return nil
}

func formatValue(v []byte) string {
	if len(v) != ValueSize {
		return "** " + hexstr(v)
	}
	for _, b := range v {
		if b == 0 {
			return "** " + hexstr(v)
		}
	}
	return strconv.FormatFloat(float64(DecodeValue(v)), 'g', -1, 32)
}
