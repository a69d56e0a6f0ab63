package stats

import (
	"testing"
	"time"
)

func TestTrackerSnapshotPercentiles(t *testing.T) {
	tr := New(time.Hour)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		tr.Observe(OpPlan, time.Duration(ms)*time.Millisecond)
	}

	snap := tr.Snapshot(OpPlan)
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got %d %d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestTrackerSeparatesOperations(t *testing.T) {
	tr := New(time.Hour)
	tr.Observe(OpPlan, 10*time.Millisecond)
	tr.Observe(OpConvert, 30*time.Millisecond)
	tr.Observe(OpConvert, 50*time.Millisecond)

	all := tr.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(all))
	}
	if all[OpConvert].Count != 2 || all[OpPlan].Count != 1 {
		t.Fatalf("unexpected counts %+v", all)
	}
	if got := tr.Snapshot(OpStore); got.Count != 0 {
		t.Fatalf("expected empty snapshot for unused op, got %+v", got)
	}
}

func TestTrackerExpiresSamples(t *testing.T) {
	tr := New(10 * time.Millisecond)
	tr.Observe(OpPlan, 100*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	if snap := tr.Snapshot(OpPlan); snap.Count != 0 {
		t.Fatalf("expected count=0 after expiry, got %d", snap.Count)
	}
	tr.Observe(OpPlan, 200*time.Millisecond)
	snap := tr.Snapshot(OpPlan)
	if snap.Count != 1 || snap.MinMs != 200 {
		t.Fatalf("expected one fresh 200ms sample, got %+v", snap)
	}
	if len(tr.All()) != 1 {
		t.Fatalf("expected only the fresh operation")
	}
}

func TestTrackerClampsNegative(t *testing.T) {
	tr := New(time.Hour)
	tr.Observe(OpStore, -time.Second)
	if snap := tr.Snapshot(OpStore); snap.Count != 1 || snap.MaxMs != 0 {
		t.Fatalf("expected clamped zero sample, got %+v", snap)
	}
}
