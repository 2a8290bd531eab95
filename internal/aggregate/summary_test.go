package aggregate

import (
	"errors"
	"testing"

	"bwprobe/internal/model"
)

func TestSummarize_Basic(t *testing.T) {
	t.Parallel()

	results := []model.Result{
		{Port: 5001, ThroughputMbps: 100},
		{Port: 5002, ThroughputMbps: 300},
		{Port: 5003, Err: errors.New("connection refused")},
		{Port: 5004, TimedOut: true, Err: errors.New("timed out")},
		{Port: 5005, ThroughputMbps: 200},
	}
	s := Summarize(results)
	if s.Tasks != 5 || s.Failed != 2 || s.TimedOut != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if s.TotalMbps != 600 || s.AvgMbps != 200 {
		t.Fatalf("total/avg=%.2f/%.2f", s.TotalMbps, s.AvgMbps)
	}
	if s.MinMbps != 100 || s.MaxMbps != 300 {
		t.Fatalf("min/max=%.2f/%.2f", s.MinMbps, s.MaxMbps)
	}
	if s.P95Mbps != 300 {
		t.Fatalf("p95=%.2f", s.P95Mbps)
	}
}

func TestSummarize_AllFailed(t *testing.T) {
	t.Parallel()

	s := Summarize([]model.Result{{Err: errors.New("x")}, {TimedOut: true}})
	if s.Tasks != 2 || s.Failed != 2 || s.MinMbps != 0 || s.AvgMbps != 0 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	if s := Summarize(nil); s != (Summary{}) {
		t.Fatalf("summary=%+v", s)
	}
}

func TestNearestRank_Edges(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4}
	if got := nearestRank(values, 0); got != 1 {
		t.Fatalf("p0=%v", got)
	}
	if got := nearestRank(values, 1); got != 4 {
		t.Fatalf("p100=%v", got)
	}
	if got := nearestRank(values, 0.5); got != 2 {
		t.Fatalf("p50=%v", got)
	}
}

func TestNearestRank_TwentySamples(t *testing.T) {
	t.Parallel()

	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i + 1)
	}
	if got := nearestRank(values, 0.95); got != 19 {
		t.Fatalf("p95=%v", got)
	}
	if got := nearestRank(nil, 0.95); got != 0 {
		t.Fatalf("empty=%v", got)
	}
}
