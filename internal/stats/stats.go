package stats

import (
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the service.
const (
	OpConvert = "convert"
	OpPlan    = "plan"
	OpStore   = "store"
)

type sample struct {
	at time.Time
	ms int64
}

// Snapshot aggregates the samples of one operation inside the window.
type Snapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Tracker keeps a rolling window of durations per operation.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	series map[string][]sample
}

func New(window time.Duration) *Tracker {
	if window <= 0 {
		window = time.Hour
	}
	return &Tracker{window: window, series: make(map[string][]sample)}
}

// Observe records one duration for op. Negative durations count as zero.
func (t *Tracker) Observe(op string, d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.series[op] = append(expire(t.series[op], now.Add(-t.window)), sample{at: now, ms: ms})
}

// Since is shorthand for Observe(op, time.Since(start)).
func (t *Tracker) Since(op string, start time.Time) {
	t.Observe(op, time.Since(start))
}

// Snapshot returns the aggregate for op.
func (t *Tracker) Snapshot(op string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(op, time.Now())
}

// All returns aggregates for every operation that has live samples.
func (t *Tracker) All() map[string]Snapshot {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Snapshot, len(t.series))
	for op := range t.series {
		if s := t.snapshotLocked(op, now); s.Count > 0 {
			out[op] = s
		}
	}
	return out
}

func (t *Tracker) snapshotLocked(op string, now time.Time) Snapshot {
	live := expire(t.series[op], now.Add(-t.window))
	t.series[op] = live
	if len(live) == 0 {
		return Snapshot{}
	}

	vals := make([]int64, len(live))
	var sum int64
	for i, s := range live {
		vals[i] = s.ms
		sum += s.ms
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	return Snapshot{
		Count: len(vals),
		MinMs: vals[0],
		MaxMs: vals[len(vals)-1],
		AvgMs: float64(sum) / float64(len(vals)),
		P50Ms: percentile(vals, 50),
		P95Ms: percentile(vals, 95),
		P99Ms: percentile(vals, 99),
	}
}

// expire drops samples older than cutoff, reusing the backing array.
func expire(samples []sample, cutoff time.Time) []sample {
	n := 0
	for _, s := range samples {
		if !s.at.Before(cutoff) {
			samples[n] = s
			n++
		}
	}
	return samples[:n]
}

// percentile interpolates linearly between closest ranks of sorted values.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	pos := float64(len(sorted)-1) * pct / 100
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := pos - float64(lo)
	return float64(sorted[lo]) + float64(sorted[lo+1]-sorted[lo])*frac
}
