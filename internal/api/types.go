package api

import (
	"time"

	"bwprobe/internal/aggregate"
	"bwprobe/internal/stunutil"
)

// InvocationHeader carries the per-request invocation ID.
const InvocationHeader = "X-Invocation-Id"

// InvocationRequest is the optional /invocations body. An empty SchemaVer
// selects the topology strategy.
type InvocationRequest struct {
	SchemaVer string `json:"schema_ver,omitempty"`
}

// Report maps peer address to "<gbps> Gbps".
type Report map[string]string

// InvocationResult is a decoded /invocations response.
type InvocationResult struct {
	InvocationID string
	Report       Report
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LastInvocation describes the most recent completed invocation.
type LastInvocation struct {
	ID         string            `json:"id"`
	Strategy   string            `json:"strategy"`
	Peers      int               `json:"peers"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   string            `json:"duration"`
	Summary    aggregate.Summary `json:"summary"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version  string            `json:"version"`
	Backend  string            `json:"backend"`
	Registry string            `json:"registry"`
	Ports    []int             `json:"ports"`
	STUN     *stunutil.Mapping `json:"stun,omitempty"`
	Last     *LastInvocation   `json:"last,omitempty"`
}
