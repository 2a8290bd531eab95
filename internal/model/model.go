package model

import "time"

// DefaultPorts is the fixed port set every peer is measured on.
var DefaultPorts = []int{5001, 5002, 5003, 5004, 5005}

const (
	DefaultStreams  = 5
	DefaultDuration = 10 * time.Second
)

// Peer is a remote host resolved from the routing registry.
type Peer struct {
	Key     string `json:"key"`
	Address string `json:"address"`
}

// Task is the configuration of a single bandwidth test against one peer port.
type Task struct {
	Address  string
	Port     int
	Streams  int
	Duration time.Duration
	Reverse  bool
	ZeroCopy bool
}

// Result is the outcome of one Task. Err is set when the measurement failed
// and ThroughputMbps is then zero.
type Result struct {
	Address        string
	Port           int
	ThroughputMbps float64
	Err            error
	TimedOut       bool
}

// Failed reports whether the task produced no usable measurement.
func (r Result) Failed() bool {
	return r.Err != nil || r.TimedOut
}

// PeerTotal is the coordinator output for a single peer batch.
type PeerTotal struct {
	Peer      Peer
	TotalMbps float64
	Tasks     int
	Failed    int
	Results   []Result
}
