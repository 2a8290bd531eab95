// Package server exposes the serving-container HTTP contract.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bwprobe/internal/aggregate"
	"bwprobe/internal/api"
	"bwprobe/internal/config"
	"bwprobe/internal/model"
	"bwprobe/internal/resolver"
	"bwprobe/internal/stunutil"
	"bwprobe/internal/telemetry"
)

// MaxBodyBytes bounds the invocation body. Larger bodies are treated as
// malformed and select the default strategy.
const MaxBodyBytes = 1 << 20

// PeerResolver resolves the peers of one invocation.
type PeerResolver interface {
	Resolve(ctx context.Context, s resolver.Strategy) ([]model.Peer, error)
}

// Gatherer measures a list of peers.
type Gatherer interface {
	GatherAll(ctx context.Context, peers []model.Peer) []model.PeerTotal
	Ports() []int
}

// Server serves /ping, /invocations and /status.
type Server struct {
	cfg      config.Config
	version  string
	resolver PeerResolver
	gatherer Gatherer
	inst     *telemetry.Instruments

	mu   sync.Mutex
	last *api.LastInvocation
	stun *stunutil.Mapping
}

// New constructs a server. A nil inst falls back to no-op instruments.
func New(cfg config.Config, version string, res PeerResolver, g Gatherer, inst *telemetry.Instruments) *Server {
	if inst == nil {
		inst = telemetry.NewNoopInstruments()
	}
	return &Server{
		cfg:      cfg,
		version:  version,
		resolver: res,
		gatherer: g,
		inst:     inst,
	}
}

// SetSTUN records the node's discovered public mapping for /status.
func (s *Server) SetSTUN(m stunutil.Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stun = &m
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/invocations", s.handleInvocations)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is done, then drains
// in-flight requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.cfg.Listen).Msg("bwprobe listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "success")
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := uuid.NewString()
	logger := log.With().Str("invocation_id", id).Logger()
	ctx := logger.WithContext(r.Context())
	w.Header().Set(api.InvocationHeader, id)

	strategy := resolver.ParseStrategy(readBody(r, &logger))
	s.inst.Invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", string(strategy))))
	logger.Info().Str("strategy", string(strategy)).Msg("invocation started")

	start := time.Now()
	peers, err := s.resolver.Resolve(ctx, strategy)
	if err != nil {
		logger.Error().Err(err).Str("strategy", string(strategy)).Msg("resolve peers failed")
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info().Int("peers", len(peers)).Msg("peers resolved")

	totals := s.gatherer.GatherAll(ctx, peers)
	report := aggregate.Merge(totals)

	elapsed := time.Since(start)
	s.inst.InvocationDuration.Record(ctx, elapsed.Seconds())

	var results []model.Result
	for _, t := range totals {
		results = append(results, t.Results...)
	}
	summary := aggregate.Summarize(results)
	s.mu.Lock()
	s.last = &api.LastInvocation{
		ID:         id,
		Strategy:   string(strategy),
		Peers:      len(peers),
		FinishedAt: time.Now().UTC(),
		Duration:   elapsed.Round(time.Millisecond).String(),
		Summary:    summary,
	}
	s.mu.Unlock()

	logger.Info().
		Int("peers", len(peers)).
		Int("tasks", summary.Tasks).
		Int("failed", summary.Failed).
		Dur("elapsed", elapsed).
		Msg("invocation done")
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := api.StatusResponse{
		Version:  s.version,
		Backend:  s.cfg.Measure.Backend,
		Registry: s.cfg.Registry.Backend,
		Ports:    s.gatherer.Ports(),
	}
	s.mu.Lock()
	if s.stun != nil {
		m := *s.stun
		resp.STUN = &m
	}
	if s.last != nil {
		last := *s.last
		resp.Last = &last
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// readBody returns at most MaxBodyBytes of the request body. Read failures
// and oversized bodies yield nil.
func readBody(r *http.Request, logger *zerolog.Logger) []byte {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		logger.Debug().Err(err).Msg("read invocation body failed")
		return nil
	}
	if len(body) > MaxBodyBytes {
		logger.Debug().Int("limit", MaxBodyBytes).Msg("invocation body too large, ignoring")
		return nil
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
