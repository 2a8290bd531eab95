// Package aggregate turns per-task throughput into the invocation report.
package aggregate

import (
	"strconv"
	"strings"

	"bwprobe/internal/model"
)

// MbpsPerGbps is the decimal conversion factor between Mbps and Gbps.
const MbpsPerGbps = 1000.0

// Total sums the throughput of results. Failed tasks contribute zero.
func Total(results []model.Result) float64 {
	var sum float64
	for _, r := range results {
		if r.Failed() {
			continue
		}
		sum += r.ThroughputMbps
	}
	return sum
}

// Gbps converts megabits per second to gigabits per second.
func Gbps(mbps float64) float64 {
	return mbps / MbpsPerGbps
}

// FormatGbps renders v as "<float> Gbps" with at least one fractional digit,
// e.g. "1.0 Gbps" or "0.25 Gbps". Values are always written in plain decimal,
// never exponent form: 1e-5 is "0.00001 Gbps" and 1e21 is
// "1000000000000000000000.0 Gbps".
func FormatGbps(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".nN") {
		s += ".0"
	}
	return s + " Gbps"
}

// Merge builds the report keyed by peer address. Peers sharing an address
// overwrite each other; the last one wins.
func Merge(totals []model.PeerTotal) map[string]string {
	report := make(map[string]string, len(totals))
	for _, t := range totals {
		report[t.Peer.Address] = FormatGbps(Gbps(t.TotalMbps))
	}
	return report
}
