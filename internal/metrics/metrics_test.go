package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	r.ObserveFetch(ResultHit)
	r.ObserveFetch(ResultHit)
	r.ObserveFetch(ResultMiss)
	r.ObserveCommit(CommitAbandoned)
	r.ObserveBytes("network", 5)
	r.ObserveBytes("network", 0)

	if got := r.FetchCount(ResultHit); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := r.CommitCount(CommitAbandoned); got != 1 {
		t.Fatalf("expected 1 abandoned write, got %v", got)
	}
	if got := testutil.ToFloat64(r.bytesServed.WithLabelValues("network")); got != 5 {
		t.Fatalf("expected 5 bytes, got %v", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 4 {
		t.Fatalf("expected 4 series, got %d (err=%v)", n, err)
	}
}

func TestRecorderDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewRecorder(reg); err == nil {
		t.Fatalf("second registration on the same registry should fail")
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveFetch(ResultFailure)
	r.ObserveCommit(CommitCommitted)
	r.ObserveBytes("cache", 10)
	if r.FetchCount(ResultFailure) != 0 {
		t.Fatalf("nil recorder should report zero")
	}
}
