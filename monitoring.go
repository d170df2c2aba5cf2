package countdb

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats are per-store operation counters. They are updated atomically and
// reset only when the Store is reopened.
type Stats struct {
	Gets           atomic.Int64
	Puts           atomic.Int64
	Deletes        atomic.Int64
	Scans          atomic.Int64
	ScannedEntries atomic.Int64
	Commits        atomic.Int64
	Conflicts      atomic.Int64
	Clears         atomic.Int64
}

type StatsSnapshot struct {
	Gets           int64
	Puts           int64
	Deletes        int64
	Scans          int64
	ScannedEntries int64
	Commits        int64
	Conflicts      int64
	Clears         int64
}

func (s *Store) Stats() StatsSnapshot {
	st := &s.stats
	return StatsSnapshot{
		Gets:           st.Gets.Load(),
		Puts:           st.Puts.Load(),
		Deletes:        st.Deletes.Load(),
		Scans:          st.Scans.Load(),
		ScannedEntries: st.ScannedEntries.Load(),
		Commits:        st.Commits.Load(),
		Conflicts:      st.Conflicts.Load(),
		Clears:         st.Clears.Load(),
	}
}

var (
	descOps = prometheus.NewDesc("countdb_operations_total",
		"Store operations by kind.", []string{"store", "op"}, nil)
	descScanned = prometheus.NewDesc("countdb_scanned_entries_total",
		"Entries visited by range scans and cursors.", []string{"store"}, nil)
	descOpenCursors = prometheus.NewDesc("countdb_open_cursors",
		"Cursors currently holding a snapshot.", []string{"store"}, nil)
)

// Collector exports the counters of a set of stores to Prometheus.
type Collector struct {
	stores []*Store
}

// NewCollector returns a collector for stores. Register it with a
// prometheus.Registerer.
func NewCollector(stores ...*Store) *Collector {
	return &Collector{stores: stores}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descOps
	ch <- descScanned
	ch <- descOpenCursors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.stores {
		st := s.Stats()
		for _, op := range []struct {
			name string
			v    int64
		}{
			{"get", st.Gets},
			{"put", st.Puts},
			{"delete", st.Deletes},
			{"scan", st.Scans},
			{"commit", st.Commits},
			{"conflict", st.Conflicts},
			{"clear", st.Clears},
		} {
			ch <- prometheus.MustNewConstMetric(descOps, prometheus.CounterValue, float64(op.v), s.name, op.name)
		}
		ch <- prometheus.MustNewConstMetric(descScanned, prometheus.CounterValue, float64(st.ScannedEntries), s.name)

		s.cursorsLock.Lock()
		n := len(s.cursors)
		s.cursorsLock.Unlock()
		ch <- prometheus.MustNewConstMetric(descOpenCursors, prometheus.GaugeValue, float64(n), s.name)
	}
}
