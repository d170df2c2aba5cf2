// Command countdb inspects and maintains countdb stores: it dumps tables to
// the interchange formats, rebuilds lexical stores from legacy files,
// restores snapshots and reports statistics.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/andreyvit/countdb"
	"github.com/andreyvit/countdb/interchange"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "countdb: %v\n", err)
		os.Exit(1)
	}
}

// app carries the state shared by all subcommands. It is filled in by the
// root command's PersistentPreRunE.
type app struct {
	configPath string
	engine     string
	verbose    bool

	opt    countdb.Options
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "countdb",
		Short:         "Inspect and maintain persistent count tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML file with store options")
	pf.StringVar(&a.engine, "engine", "", "storage engine: badger, bolt or memory (overrides config)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log store lifecycle events")

	root.AddCommand(
		newDumpCmd(a),
		newRebuildCmd(a),
		newRestoreCmd(a),
		newStatsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelInfo
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	opt := countdb.DefaultOptions()
	if a.configPath != "" {
		var err error
		opt, err = countdb.LoadOptionsFile(a.configPath)
		if err != nil {
			return err
		}
	}
	if a.engine != "" {
		opt.Engine = countdb.Engine(a.engine)
	}
	if a.verbose {
		opt.Verbose = true
	}
	opt.Logger = a.logger
	if err := opt.Validate(); err != nil {
		return err
	}
	a.opt = opt
	return nil
}

// existing returns options that never create a store.
func (a *app) existing() countdb.Options {
	opt := a.opt
	opt.CreateIfMissing = false
	return opt
}

func parseKind(s string) (countdb.Kind, error) {
	switch k := countdb.Kind(s); k {
	case countdb.KindLex, countdb.KindPhrase, countdb.KindRaw:
		return k, nil
	default:
		return "", fmt.Errorf("unknown table kind %q (want lex, phrase or raw)", s)
	}
}

// storePath maps a prefix to the store of the given kind. Raw tables live
// at the prefix itself.
func storePath(prefix string, kind countdb.Kind) string {
	switch kind {
	case countdb.KindLex:
		return countdb.LexStorePath(prefix)
	case countdb.KindPhrase:
		return countdb.PhraseStorePath(prefix)
	default:
		return prefix
	}
}

// writeOutput runs f against the command's stdout for "-" or an empty
// path, or against an atomically replaced file otherwise.
func writeOutput(cmd *cobra.Command, path string, f func(w io.Writer) error) error {
	if path == "" || path == "-" {
		return f(cmd.OutOrStdout())
	}
	return interchange.WriteFile(path, f)
}
