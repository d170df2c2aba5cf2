package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/countdb"
	"github.com/andreyvit/countdb/interchange"
)

func newRebuildCmd(a *app) *cobra.Command {
	var prefix, textPath string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild a lexical store from its legacy file",
		Long: `Discards the lexical store at --prefix and refills it from <prefix>.hmm_lexnd.
With --text, reads "s t numer denom" lines from the given file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var lt *countdb.LexTable
			var err error
			if textPath != "" {
				lt, err = a.rebuildFromText(prefix, textPath)
			} else {
				lt, err = countdb.LoadLexTableBin(prefix, a.opt)
			}
			if err != nil {
				return err
			}
			defer lt.Close()

			n, err := lt.Size()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries\n", lt.Name(), n)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&prefix, "prefix", "", "table prefix")
	f.StringVar(&textPath, "text", "", "rebuild from a text rendering instead of the legacy binary file")
	cmd.MarkFlagRequired("prefix")
	return cmd
}

func (a *app) rebuildFromText(prefix, path string) (*countdb.LexTable, error) {
	lt, err := countdb.InitLexTable(prefix, a.opt)
	if err != nil {
		return nil, err
	}
	err = interchange.ReadFile(path, func(r io.Reader) error {
		_, err := lt.LoadText(r)
		return err
	})
	if err != nil {
		lt.Drop()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return lt, nil
}

func newRestoreCmd(a *app) *cobra.Command {
	var prefix, kindStr, in string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace a store with the contents of a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(kindStr)
			if err != nil {
				return err
			}
			s, err := countdb.Init(storePath(prefix, kind), kind, a.opt)
			if err != nil {
				return err
			}
			n, err := s.ImportSnapshotFile(in)
			if err != nil {
				s.Drop()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: restored %d entries\n", s.Name(), n)
			return s.Close()
		},
	}
	f := cmd.Flags()
	f.StringVar(&prefix, "prefix", "", "table prefix")
	f.StringVar(&kindStr, "kind", string(countdb.KindLex), "table kind: lex, phrase or raw")
	f.StringVarP(&in, "in", "i", "", "snapshot file")
	cmd.MarkFlagRequired("prefix")
	cmd.MarkFlagRequired("in")
	return cmd
}
