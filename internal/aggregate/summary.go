package aggregate

import (
	"math"
	"sort"

	"bwprobe/internal/model"
)

// Summary is a basic statistics snapshot over task results.
type Summary struct {
	Tasks     int     `json:"tasks"`
	Failed    int     `json:"failed"`
	TimedOut  int     `json:"timed_out"`
	TotalMbps float64 `json:"total_mbps"`
	AvgMbps   float64 `json:"avg_mbps"`
	P95Mbps   float64 `json:"p95_mbps"`
	MinMbps   float64 `json:"min_mbps"`
	MaxMbps   float64 `json:"max_mbps"`
}

// Summarize computes summary statistics for results. Min, max, average and
// p95 only consider tasks that produced a measurement.
func Summarize(results []model.Result) Summary {
	s := Summary{Tasks: len(results)}

	measured := make([]float64, 0, len(results))
	for _, r := range results {
		if r.TimedOut {
			s.TimedOut++
		}
		if r.Failed() {
			s.Failed++
			continue
		}
		measured = append(measured, r.ThroughputMbps)
		s.TotalMbps += r.ThroughputMbps
	}
	if len(measured) == 0 {
		return s
	}

	sort.Float64s(measured)
	s.MinMbps = measured[0]
	s.MaxMbps = measured[len(measured)-1]
	s.AvgMbps = s.TotalMbps / float64(len(measured))
	s.P95Mbps = nearestRank(measured, 0.95)
	return s
}

// nearestRank returns the p-quantile of an ascending slice using the
// nearest-rank method: the smallest value with at least p of the samples at
// or below it.
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(n)))
	rank = min(max(rank, 1), n)
	return sorted[rank-1]
}
