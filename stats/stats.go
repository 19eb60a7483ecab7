// Package stats keeps the run counters shared by the harvest worker and the
// control plane.
package stats

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rodaine/table"
)

// Stats is a set of counters safe for concurrent reads.
// TotalKnown, NewlySaved, Errors and Retries only grow; DuplicatesThisLocality
// is reset when the queue advances. TotalKnown is derived on read so a
// snapshot never shows it apart from Preloaded+NewlySaved.
type Stats struct {
	preloaded  atomic.Int64
	newlySaved atomic.Int64
	duplicates atomic.Int64
	errors     atomic.Int64
	retries    atomic.Int64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Preloaded              int64
	TotalKnown             int64
	NewlySaved             int64
	DuplicatesThisLocality int64
	Errors                 int64
	Retries                int64
}

// New creates an empty counter set
func New() *Stats {
	return &Stats{}
}

// SetPreloaded records the number of records loaded from the store at startup.
// It must be called once, before any record is saved.
func (s *Stats) SetPreloaded(n int) {
	s.preloaded.Store(int64(n))
}

// RecordSaved counts a newly persisted record
func (s *Stats) RecordSaved() {
	s.newlySaved.Add(1)
}

// RecordDuplicate counts a candidate rejected as already known
func (s *Stats) RecordDuplicate() {
	s.duplicates.Add(1)
}

// RecordError counts an extraction, persistence or locality failure
func (s *Stats) RecordError() {
	s.errors.Add(1)
}

// RecordRetry counts an additional attempt on a locality
func (s *Stats) RecordRetry() {
	s.retries.Add(1)
}

// ResetDuplicates clears the per-locality duplicate counter
func (s *Stats) ResetDuplicates() {
	s.duplicates.Store(0)
}

// Duplicates returns the duplicate counter of the current locality
func (s *Stats) Duplicates() int64 {
	return s.duplicates.Load()
}

// Snapshot returns a copy of all counters
func (s *Stats) Snapshot() Snapshot {
	preloaded, saved := s.preloaded.Load(), s.newlySaved.Load()
	return Snapshot{
		Preloaded:              preloaded,
		TotalKnown:             preloaded + saved,
		NewlySaved:             saved,
		DuplicatesThisLocality: s.duplicates.Load(),
		Errors:                 s.errors.Load(),
		Retries:                s.retries.Load(),
	}
}

// Render writes the snapshot as a two-column table
func (snap Snapshot) Render(w io.Writer, extra ...[2]string) {
	tbl := table.New("Metric", "Value").WithWriter(w)
	tbl.AddRow("Total establishments", snap.TotalKnown)
	tbl.AddRow("Newly saved", snap.NewlySaved)
	tbl.AddRow("Duplicates avoided (locality)", snap.DuplicatesThisLocality)
	tbl.AddRow("Errors", snap.Errors)
	tbl.AddRow("Recovery attempts", snap.Retries)
	for _, kv := range extra {
		tbl.AddRow(kv[0], kv[1])
	}
	tbl.Print()
}

// String renders the snapshot without extra rows
func (snap Snapshot) String() string {
	var buf bytes.Buffer
	snap.Render(&buf)
	return buf.String()
}

// Collector exports the counters to Prometheus
type Collector struct {
	stats *Stats
	descs map[string]*prometheus.Desc
}

// NewCollector creates a collector reading from s
func NewCollector(s *Stats) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(fmt.Sprintf("harvester_%s", name), help, nil, nil)
	}
	return &Collector{
		stats: s,
		descs: map[string]*prometheus.Desc{
			"total_known":            desc("total_known", "Establishments known, preloaded plus saved."),
			"saved_total":            desc("saved_total", "Establishments saved during this run."),
			"locality_duplicates":    desc("locality_duplicates", "Duplicates seen in the current locality."),
			"errors_total":           desc("errors_total", "Extraction, persistence and locality failures."),
			"locality_retries_total": desc("locality_retries_total", "Additional attempts made on failing localities."),
		},
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.descs["total_known"], prometheus.GaugeValue, float64(snap.TotalKnown))
	ch <- prometheus.MustNewConstMetric(c.descs["saved_total"], prometheus.CounterValue, float64(snap.NewlySaved))
	ch <- prometheus.MustNewConstMetric(c.descs["locality_duplicates"], prometheus.GaugeValue, float64(snap.DuplicatesThisLocality))
	ch <- prometheus.MustNewConstMetric(c.descs["errors_total"], prometheus.CounterValue, float64(snap.Errors))
	ch <- prometheus.MustNewConstMetric(c.descs["locality_retries_total"], prometheus.CounterValue, float64(snap.Retries))
}
