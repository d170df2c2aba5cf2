package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andreyvit/countdb"
	"github.com/andreyvit/countdb/interchange"
)

const (
	formatText     = "text"
	formatBin      = "bin"
	formatSnapshot = "snapshot"
	formatDebug    = "debug"
)

func newDumpCmd(a *app) *cobra.Command {
	var prefix, kindStr, format, compStr, out string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a table to an interchange format",
		Long: `Writes the table at --prefix to stdout or --out.

Formats:
  text      "s t numer denom" lines (lex), "s... <tab> t <tab> count" lines (phrase)
  bin       legacy 16-byte lexical records (lex only)
  snapshot  engine-independent snapshot, optionally compressed
  debug     decoded rows with operation counters`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(kindStr)
			if err != nil {
				return err
			}
			comp, err := interchange.ParseCompression(compStr)
			if err != nil {
				return err
			}
			n, err := a.dump(cmd, prefix, kind, format, comp, out)
			if err != nil {
				return err
			}
			a.logger.Info("dumped", "prefix", prefix, "kind", kind, "format", format, "records", n)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&prefix, "prefix", "", "table prefix")
	f.StringVar(&kindStr, "kind", string(countdb.KindLex), "table kind: lex, phrase or raw")
	f.StringVar(&format, "format", formatText, "output format: text, bin, snapshot or debug")
	f.StringVar(&compStr, "compression", "none", "snapshot compression: none, zstd or lz4")
	f.StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.MarkFlagRequired("prefix")
	return cmd
}

// table is an opened store together with its typed view, if any.
type table struct {
	store  *countdb.Store
	lex    *countdb.LexTable
	phrase *countdb.PhraseTable
}

func (a *app) openTable(prefix string, kind countdb.Kind) (*table, error) {
	opt := a.existing()
	switch kind {
	case countdb.KindLex:
		lt, err := countdb.OpenLexTable(prefix, opt)
		if err != nil {
			return nil, err
		}
		return &table{store: lt.Store(), lex: lt}, nil
	case countdb.KindPhrase:
		pt, err := countdb.OpenPhraseTable(prefix, opt)
		if err != nil {
			return nil, err
		}
		return &table{store: pt.Store(), phrase: pt}, nil
	default:
		s, err := countdb.OpenExisting(storePath(prefix, kind), kind, opt)
		if err != nil {
			return nil, err
		}
		return &table{store: s}, nil
	}
}

func (a *app) dump(cmd *cobra.Command, prefix string, kind countdb.Kind, format string, comp interchange.Compression, out string) (int64, error) {
	tbl, err := a.openTable(prefix, kind)
	if err != nil {
		return 0, err
	}
	defer tbl.store.Close()

	var n int64
	err = writeOutput(cmd, out, func(w io.Writer) error {
		var err error
		switch {
		case format == formatSnapshot:
			n, err = tbl.store.WriteSnapshot(w, comp)
		case format == formatDebug:
			var text string
			text, err = tbl.store.Dump(countdb.DumpAll)
			if err == nil {
				_, err = io.WriteString(w, text)
			}
		case format == formatText && tbl.lex != nil:
			n, err = tbl.lex.PrintText(w)
		case format == formatText && tbl.phrase != nil:
			n, err = printPhraseText(w, tbl.phrase)
		case format == formatBin && tbl.lex != nil:
			n, err = tbl.lex.PrintBin(w)
		case format == formatText || format == formatBin:
			err = fmt.Errorf("%s format is not available for %s tables", format, kind)
		default:
			err = fmt.Errorf("unknown format %q", format)
		}
		return err
	})
	return n, err
}

func printPhraseText(w io.Writer, pt *countdb.PhraseTable) (int64, error) {
	c, err := pt.Begin()
	if err != nil {
		return 0, err
	}
	defer c.Close()

	bw := bufio.NewWriter(w)
	var n int64
	var line []byte
	for c.Next() {
		e := c.Entry()
		line = line[:0]
		for i, v := range e.Source {
			if i > 0 {
				line = append(line, ' ')
			}
			line = strconv.AppendUint(line, uint64(v), 10)
		}
		line = append(line, '\t')
		if e.IsMarginal {
			line = append(line, '*')
		} else {
			line = strconv.AppendUint(line, uint64(e.Target), 10)
		}
		line = append(line, '\t')
		line = strconv.AppendFloat(line, float64(e.Count), 'g', -1, 32)
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return n, err
		}
		n++
	}
	if err := c.Err(); err != nil {
		return n, err
	}
	return n, bw.Flush()
}
