package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
)

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestSyncerRecords(t *testing.T) {
	m := NewSyncer()

	if inc := delta(t, syncTransitionsTotal.WithLabelValues("idle", "newBlock", "NEWBLOCK"), func() {
		m.Transition(fsm.Idle, fsm.NewBlock, fsm.NewBlockEv)
	}); inc != 1 {
		t.Fatalf("expected transition counter increment, got %v", inc)
	}
	if v := testutil.ToFloat64(syncState.WithLabelValues(fsm.NewBlock.String())); v != 1 {
		t.Fatalf("expected current state gauge to be set, got %v", v)
	}
	if v := testutil.ToFloat64(syncState.WithLabelValues(fsm.Idle.String())); v != 0 {
		t.Fatalf("expected previous state gauge to be cleared, got %v", v)
	}

	if inc := delta(t, syncAdmissionsTotal.WithLabelValues("tooLate"), func() {
		m.Admission("tooLate")
	}); inc != 1 {
		t.Fatalf("expected admission counter increment, got %v", inc)
	}

	if inc := delta(t, syncJobsTotal.WithLabelValues("accepted"), func() {
		m.Job("accepted", 3, 20*time.Millisecond)
	}); inc != 1 {
		t.Fatalf("expected job counter increment, got %v", inc)
	}

	if inc := delta(t, syncRollbackBlocksTotal, func() {
		m.Rollback(4)
	}); inc != 4 {
		t.Fatalf("expected rollback blocks to grow by 4, got %v", inc)
	}

	m.QueueDepth(7)
	if v := testutil.ToFloat64(syncQueueDepth); v != 7 {
		t.Fatalf("expected queue depth 7, got %v", v)
	}
}
