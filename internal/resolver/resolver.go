package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"bwprobe/internal/config"
	"bwprobe/internal/model"
	"bwprobe/internal/registry"
)

// Strategy selects how peers are discovered.
type Strategy string

const (
	// Legacy reads every peer from a single flat routing item.
	Legacy Strategy = "legacy"
	// Topology queries idle peers in the caller's zone under the same spine.
	Topology Strategy = "topology"
)

// SchemaV1 is the request schema version that selects the legacy strategy.
const SchemaV1 = "v1"

// ErrConfig is returned when settings required to query the registry are missing.
var ErrConfig = errors.New("resolver configuration missing")

type selector struct {
	SchemaVer string `json:"schema_ver"`
}

// ParseStrategy picks a strategy from an invocation body. It never fails:
// empty bodies, bodies that are not a JSON object and unknown schema versions
// all select Topology. Only `{"schema_ver": "v1"}` selects Legacy.
func ParseStrategy(body []byte) Strategy {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Topology
	}

	var sel selector
	if err := json.Unmarshal(trimmed, &sel); err != nil {
		log.Debug().Err(err).Msg("invocation body is not a selector object, using topology strategy")
		return Topology
	}
	if sel.SchemaVer == SchemaV1 {
		return Legacy
	}
	return Topology
}

// Resolver turns a strategy into the current set of peers.
type Resolver struct {
	reg      registry.Registry
	registry config.RegistryConfig
	topology config.TopologyConfig
	now      func() time.Time
}

func New(reg registry.Registry, rcfg config.RegistryConfig, tcfg config.TopologyConfig) *Resolver {
	return &Resolver{
		reg:      reg,
		registry: rcfg,
		topology: tcfg,
		now:      time.Now,
	}
}

// WithClock overrides the wall clock used for reservation and TTL checks.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the peers selected by the strategy. Registry and
// configuration errors are returned unchanged in kind so callers can map them.
func (r *Resolver) Resolve(ctx context.Context, s Strategy) ([]model.Peer, error) {
	if err := r.checkConfig(s); err != nil {
		return nil, err
	}
	switch s {
	case Legacy:
		return r.resolveLegacy(ctx)
	default:
		return r.resolveTopology(ctx)
	}
}

func (r *Resolver) checkConfig(s Strategy) error {
	if r.reg == nil {
		return fmt.Errorf("%w: no registry", ErrConfig)
	}
	if r.registry.Backend != config.RegistryFile && r.registry.TableName == "" {
		return fmt.Errorf("%w: ROUTING_TABLE_NAME", ErrConfig)
	}
	if r.registry.EntryKey == "" {
		return fmt.Errorf("%w: ROUTING_ENTRY_KEY", ErrConfig)
	}
	if s == Legacy {
		return nil
	}
	if r.topology.AvailabilityZone == "" {
		return fmt.Errorf("%w: AWS_AVAILABILITY_ZONE", ErrConfig)
	}
	if r.topology.Spine() == "" {
		return fmt.Errorf("%w: AWS_NETWORK_NODES", ErrConfig)
	}
	return nil
}

func (r *Resolver) resolveLegacy(ctx context.Context) ([]model.Peer, error) {
	item, err := r.reg.Lookup(ctx, r.registry.EntryKey)
	if err != nil {
		return nil, fmt.Errorf("legacy lookup: %w", err)
	}

	peers := make([]model.Peer, 0, len(item))
	for key, value := range item {
		if key == registry.EndpointNameAttr {
			continue
		}
		peers = append(peers, model.Peer{Key: key, Address: value})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Key < peers[j].Key })
	return peers, nil
}

func (r *Resolver) resolveTopology(ctx context.Context) ([]model.Peer, error) {
	records, err := r.reg.Query(ctx, registry.Filter{
		EntryKey:         r.registry.EntryKey,
		AvailabilityZone: r.topology.AvailabilityZone,
		Spine:            r.topology.Spine(),
		Now:              r.now(),
		Limit:            r.registry.QueryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("topology query: %w", err)
	}

	peers := make([]model.Peer, 0, len(records))
	for _, rec := range records {
		peers = append(peers, model.Peer{Key: rec.Key, Address: rec.Address})
	}
	return peers, nil
}
