package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"bwprobe/internal/config"
)

// EndpointNameAttr is the partition key of the routing table. In a legacy
// routing item every other attribute names a prompt peer.
const EndpointNameAttr = "EndpointName"

// ErrNotFound is returned when the routing entry does not exist.
var ErrNotFound = errors.New("routing entry not found")

// Registry is the routing registry peers are discovered from.
type Registry interface {
	// Lookup returns the attributes of the routing item stored under entryKey.
	Lookup(ctx context.Context, entryKey string) (map[string]string, error)
	// Query returns the idle prompt records matching the filter.
	Query(ctx context.Context, f Filter) ([]Record, error)
}

// Record is a single prompt server row in the routing table.
type Record struct {
	EntryKey           string   `yaml:"endpoint_name" dynamodbav:"EndpointName"`
	Key                string   `yaml:"key" dynamodbav:"PromptKey"`
	Address            string   `yaml:"address" dynamodbav:"IpAddress"`
	AvailabilityZone   string   `yaml:"availability_zone" dynamodbav:"AvailabilityZone,omitempty"`
	NetworkNodes       []string `yaml:"network_nodes" dynamodbav:"NetworkNodes,omitempty,stringset"`
	Reserved           bool     `yaml:"reserved" dynamodbav:"Reserved"`
	ReservationTimeout int64    `yaml:"reservation_timeout" dynamodbav:"ReservationTimeout,omitempty"`
	TTL                int64    `yaml:"ttl" dynamodbav:"TTL,omitempty"`
}

// Filter scopes a topology query. Timestamps are compared in Unix seconds.
type Filter struct {
	EntryKey         string
	AvailabilityZone string
	Spine            string
	Now              time.Time
	Limit            int
}

// Match reports whether a record qualifies for the filter: same routing entry
// and zone, spine among its network nodes, unreserved or with an expired
// reservation, and a TTL that has not yet passed.
func (f Filter) Match(r Record) bool {
	now := f.Now.Unix()
	if r.EntryKey != f.EntryKey {
		return false
	}
	if r.AvailabilityZone != f.AvailabilityZone {
		return false
	}
	if !slices.Contains(r.NetworkNodes, f.Spine) {
		return false
	}
	if r.Reserved && r.ReservationTimeout >= now {
		return false
	}
	return r.TTL >= now
}

// Open builds the registry backend selected in config.
func Open(ctx context.Context, cfg config.RegistryConfig) (Registry, error) {
	switch cfg.Backend {
	case config.RegistryFile:
		return NewFile(cfg.FilePath), nil
	case config.RegistryDynamo, "":
		d, err := NewDynamo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
