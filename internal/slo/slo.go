// Package slo implements C8: per-SLO rolling counters bucketed by hour,
// compliance/error-budget derivation, and a compact latency histogram
// (spec.md §4.8). Grounded on original_source's
// src/api/sre/slo_monitoring.py — SLOCollector's measurement window,
// ErrorBudget's target/remaining-budget math, and SLOEvaluator's
// healthy/warning/critical thresholds — reworked from that file's
// cache-backed measurement list into Go's tighter bucketed-counter shape
// the way pincex_unified's internal/infrastructure/ratelimit/monitoring.go
// keeps fixed-size rolling stat buckets in process memory rather than in
// an external store.
package slo

import (
	"math"
	"sync"
	"time"
)

// Status mirrors the Python source's SLOStatus.status enum.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Target configures one tracked SLO (spec.md §4.8; field set narrowed to
// the availability/latency shape spec.md actually asks for — original's
// THROUGHPUT/ERROR_RATE variants are folded into TargetPercentage against
// whichever signal the caller records as "good").
type Target struct {
	Name             string
	TargetPercentage float64
	WindowHours      int
}

type bucket struct {
	start time.Time
	total int64
	good  int64
}

// hourBuckets is a fixed-length ring of one bucket per hour, covering
// WindowHours hours of history (spec.md §4.8 "bucketed per hour";
// "Bucket rotation: on every record, buckets whose time window has
// elapsed are zeroed before the write").
type hourBuckets struct {
	buckets []bucket
}

func newHourBuckets(hours int) *hourBuckets {
	return &hourBuckets{buckets: make([]bucket, hours)}
}

func (h *hourBuckets) slot(t time.Time) *bucket {
	idx := int(t.Unix()/3600) % len(h.buckets)
	b := &h.buckets[idx]
	hourStart := t.Truncate(time.Hour)
	if !b.start.Equal(hourStart) {
		b.start = hourStart
		b.total = 0
		b.good = 0
	}
	return b
}

func (h *hourBuckets) record(t time.Time, good bool) {
	b := h.slot(t)
	b.total++
	if good {
		b.good++
	}
}

// totals sums counters across buckets still inside the window (i.e. not
// stale relative to now).
func (h *hourBuckets) totals(now time.Time) (total, good int64) {
	cutoff := now.Add(-time.Duration(len(h.buckets)) * time.Hour)
	for i := range h.buckets {
		b := &h.buckets[i]
		if b.start.IsZero() || b.start.Before(cutoff) {
			continue
		}
		total += b.total
		good += b.good
	}
	return total, good
}

// logHistogram is a compact HDR-style histogram: fixed log-spaced
// microsecond buckets, counted, enough to answer quantile queries within
// one bucket's relative error (spec.md §4.8 "compact histogram (e.g.
// HDR-style log buckets)"). No ecosystem HDR-histogram library appeared
// anywhere in the retrieved pack, so this is a deliberate, narrowly-scoped
// stdlib structure — see DESIGN.md.
type logHistogram struct {
	counts []int64 // counts[i] = latencies in [2^i, 2^(i+1)) microseconds
	total  int64
}

const histBuckets = 40 // covers microseconds up to 2^40 (~12 days)

func newLogHistogram() *logHistogram {
	return &logHistogram{counts: make([]int64, histBuckets)}
}

func (h *logHistogram) record(d time.Duration) {
	micros := d.Microseconds()
	if micros < 1 {
		micros = 1
	}
	idx := int(math.Log2(float64(micros)))
	if idx < 0 {
		idx = 0
	}
	if idx >= histBuckets {
		idx = histBuckets - 1
	}
	h.counts[idx]++
	h.total++
}

// quantile returns the upper edge of the bucket containing the q-th
// quantile (0<q<=1), a deliberate approximation consistent with spec.md's
// "compact histogram" framing.
func (h *logHistogram) quantile(q float64) time.Duration {
	if h.total == 0 {
		return 0
	}
	target := int64(math.Ceil(q * float64(h.total)))
	var cumulative int64
	for i, c := range h.counts {
		cumulative += c
		if cumulative >= target {
			upperMicros := int64(1) << uint(i+1)
			return time.Duration(upperMicros) * time.Microsecond
		}
	}
	return time.Duration(int64(1)<<histBuckets) * time.Microsecond
}

// tracker is the per-SLO mutable state: hour buckets plus a latency
// histogram, guarded by one mutex so record/compliance/error_budget all
// observe a consistent snapshot.
type tracker struct {
	mu     sync.Mutex
	target Target
	counts *hourBuckets
	hist   *logHistogram
}

// Monitor is the package's C8 entry point: one instance tracks every
// named SLO the process cares about.
type Monitor struct {
	mu       sync.Mutex
	trackers map[string]*tracker
}

func NewMonitor() *Monitor {
	return &Monitor{trackers: make(map[string]*tracker)}
}

// Register declares target, creating its tracker if this is the first
// call for target.Name. Re-registering the same name updates the target
// but keeps accumulated history.
func (m *Monitor) Register(target Target) {
	if target.WindowHours <= 0 {
		target.WindowHours = 24 * 30 // spec's "e.g. 30 days"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[target.Name]
	if !ok {
		m.trackers[target.Name] = &tracker{target: target, counts: newHourBuckets(target.WindowHours), hist: newLogHistogram()}
		return
	}
	t.mu.Lock()
	t.target = target
	t.mu.Unlock()
}

func (m *Monitor) trackerFor(name string) (*tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[name]
	return t, ok
}

// Record is spec.md §4.8's record(name, good, latency).
func (m *Monitor) Record(name string, good bool, latency time.Duration) {
	t, ok := m.trackerFor(name)
	if !ok {
		return
	}
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts.record(now, good)
	t.hist.record(latency)
}

// Compliance is spec.md §4.8's compliance(name): ratio of good events in
// the window.
func (m *Monitor) Compliance(name string) float64 {
	t, ok := m.trackerFor(name)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	total, good := t.counts.totals(time.Now())
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}

// ErrorBudget is spec.md §4.8's error_budget(name): (1-target) -
// (1-compliance); negative means the budget is exhausted.
func (m *Monitor) ErrorBudget(name string) float64 {
	t, ok := m.trackerFor(name)
	if !ok {
		return 0
	}
	t.mu.Lock()
	target := t.target.TargetPercentage
	t.mu.Unlock()
	compliance := m.Compliance(name)
	return (1 - target/100) - (1 - compliance)
}

// LatencyQuantile is spec.md §4.8's latency_quantile(name, q).
func (m *Monitor) LatencyQuantile(name string, q float64) time.Duration {
	t, ok := m.trackerFor(name)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hist.quantile(q)
}

// EvaluatedStatus reports the healthy/warning/critical classification the
// Python source's SLOEvaluator derives (within 5% of target -> warning,
// else critical): a convenience built on Compliance, not a separate
// spec.md requirement, kept since original_source computes it alongside
// the raw numbers.
func (m *Monitor) EvaluatedStatus(name string) Status {
	t, ok := m.trackerFor(name)
	if !ok {
		return StatusUnknown
	}
	t.mu.Lock()
	target := t.target.TargetPercentage
	t.mu.Unlock()
	total, _ := func() (int64, int64) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.counts.totals(time.Now())
	}()
	if total == 0 {
		return StatusUnknown
	}
	current := m.Compliance(name) * 100
	switch {
	case current >= target:
		return StatusHealthy
	case current >= target*0.95:
		return StatusWarning
	default:
		return StatusCritical
	}
}
