package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/countdb"
)

type tableStats struct {
	kind    countdb.Kind
	name    string
	absent  bool
	entries int
	created time.Time
	stats   countdb.StatsSnapshot
	metrics []string
}

func newStatsCmd(a *app) *cobra.Command {
	var prefix, kindStr string
	var all, metrics bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report entry counts and store counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var kinds []countdb.Kind
			if all {
				kinds = []countdb.Kind{countdb.KindLex, countdb.KindPhrase}
			} else {
				kind, err := parseKind(kindStr)
				if err != nil {
					return err
				}
				kinds = []countdb.Kind{kind}
			}

			results := make([]*tableStats, len(kinds))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, kind := range kinds {
				g.Go(func() error {
					ts, err := a.collectStats(ctx, prefix, kind, metrics)
					if err != nil {
						if all && errors.Is(err, countdb.ErrNotFound) {
							results[i] = &tableStats{kind: kind, name: storePath(prefix, kind), absent: true}
							return nil
						}
						return fmt.Errorf("%s: %w", kind, err)
					}
					results[i] = ts
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for _, ts := range results {
				ts.print(cmd.OutOrStdout())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&prefix, "prefix", "", "table prefix")
	f.StringVar(&kindStr, "kind", string(countdb.KindLex), "table kind: lex, phrase or raw")
	f.BoolVar(&all, "all", false, "inspect both the lex and the phrase table of the prefix")
	f.BoolVar(&metrics, "metrics", false, "also print the Prometheus metrics of each store")
	cmd.MarkFlagRequired("prefix")
	return cmd
}

func (a *app) collectStats(ctx context.Context, prefix string, kind countdb.Kind, withMetrics bool) (*tableStats, error) {
	tbl, err := a.openTable(prefix, kind)
	if err != nil {
		return nil, err
	}
	defer tbl.store.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts := &tableStats{kind: kind, name: tbl.store.Name()}
	if tbl.phrase != nil {
		ts.entries, err = tbl.phrase.Size()
	} else {
		ts.entries, err = tbl.store.Size()
	}
	if err != nil {
		return nil, err
	}
	ts.created, err = tbl.store.Created()
	if err != nil {
		return nil, err
	}
	ts.stats = tbl.store.Stats()

	if withMetrics {
		ts.metrics, err = gatherMetrics(tbl.store)
		if err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// gatherMetrics renders the collector output of s as "name{labels} value"
// lines, sorted.
func gatherMetrics(s *countdb.Store) ([]string, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(countdb.NewCollector(s)); err != nil {
		return nil, err
	}
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			v := m.GetCounter().GetValue()
			if m.GetGauge() != nil {
				v = m.GetGauge().GetValue()
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), v))
		}
	}
	sort.Strings(lines)
	return lines, nil
}

func (ts *tableStats) print(w io.Writer) {
	if ts.absent {
		fmt.Fprintf(w, "%s (%s): absent\n", ts.name, ts.kind)
		return
	}
	fmt.Fprintf(w, "%s (%s): %d entries, created %s\n", ts.name, ts.kind, ts.entries, ts.created.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  gets=%d puts=%d deletes=%d scans=%d scanned=%d commits=%d\n", ts.stats.Gets, ts.stats.Puts, ts.stats.Deletes, ts.stats.Scans, ts.stats.ScannedEntries, ts.stats.Commits)
	for _, line := range ts.metrics {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
