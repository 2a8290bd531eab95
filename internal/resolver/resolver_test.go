package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"bwprobe/internal/config"
	"bwprobe/internal/model"
	"bwprobe/internal/registry"
)

type fakeRegistry struct {
	item    map[string]string
	records []registry.Record
	err     error
	filter  registry.Filter
}

func (f *fakeRegistry) Lookup(context.Context, string) (map[string]string, error) {
	return f.item, f.err
}

func (f *fakeRegistry) Query(_ context.Context, filter registry.Filter) ([]registry.Record, error) {
	f.filter = filter
	return f.records, f.err
}

func testConfigs() (config.RegistryConfig, config.TopologyConfig) {
	return config.RegistryConfig{
			Backend:    config.RegistryDynamo,
			TableName:  "routing",
			EntryKey:   "x",
			QueryLimit: 100,
		}, config.TopologyConfig{
			AvailabilityZone: "us-west-2a",
			NetworkNodes:     []string{"spine-1", "agg-1"},
		}
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	cases := map[string]Strategy{
		``:                      Topology,
		`   `:                   Topology,
		`not valid JSON`:        Topology,
		`{`:                     Topology,
		`[1,2]`:                 Topology,
		`null`:                  Topology,
		`{}`:                    Topology,
		`{"schema_ver": "v2"}`:  Topology,
		`{"schema_ver": "v3"}`:  Topology,
		`{"schema_ver": 1}`:     Topology,
		`{"schema_ver": "v1"}`:  Legacy,
		` {"schema_ver":"v1"} `: Legacy,
	}
	for body, want := range cases {
		if got := ParseStrategy([]byte(body)); got != want {
			t.Fatalf("ParseStrategy(%q)=%s want %s", body, got, want)
		}
	}
}

func TestResolveLegacy_ExcludesEndpointName(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{item: map[string]string{
		"EndpointName": "x",
		"peerB":        "10.0.0.2",
		"peerA":        "10.0.0.1",
	}}
	rcfg, tcfg := testConfigs()
	peers, err := New(reg, rcfg, tcfg).Resolve(context.Background(), Legacy)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := []model.Peer{{Key: "peerA", Address: "10.0.0.1"}, {Key: "peerB", Address: "10.0.0.2"}}
	if len(peers) != len(want) {
		t.Fatalf("peers=%+v", peers)
	}
	for i := range want {
		if peers[i] != want[i] {
			t.Fatalf("peers=%+v", peers)
		}
	}
}

func TestResolveLegacy_DoesNotNeedTopology(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{item: map[string]string{"EndpointName": "x"}}
	rcfg, _ := testConfigs()
	peers, err := New(reg, rcfg, config.TopologyConfig{}).Resolve(context.Background(), Legacy)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("peers=%+v", peers)
	}
}

func TestResolveTopology_PassesFilter(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{records: []registry.Record{
		{Key: "prompt-1", Address: "10.0.0.1"},
		{Key: "prompt-2", Address: "10.0.0.2"},
	}}
	rcfg, tcfg := testConfigs()
	now := time.Unix(1_700_000_000, 0)
	peers, err := New(reg, rcfg, tcfg).WithClock(func() time.Time { return now }).Resolve(context.Background(), Topology)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(peers) != 2 || peers[0].Key != "prompt-1" || peers[1].Address != "10.0.0.2" {
		t.Fatalf("peers=%+v", peers)
	}

	f := reg.filter
	if f.EntryKey != "x" || f.AvailabilityZone != "us-west-2a" || f.Spine != "spine-1" || f.Limit != 100 || !f.Now.Equal(now) {
		t.Fatalf("filter=%+v", f)
	}
}

func TestResolveTopology_FileRegistry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	path := filepath.Join(t.TempDir(), "registry.yaml")
	doc := &registry.Document{Records: []registry.Record{
		{EntryKey: "x", Key: "idle", Address: "10.0.0.1", AvailabilityZone: "us-west-2a", NetworkNodes: []string{"spine-1"}, TTL: now.Unix() + 30},
		{EntryKey: "x", Key: "busy", Address: "10.0.0.2", AvailabilityZone: "us-west-2a", NetworkNodes: []string{"spine-1"}, Reserved: true, ReservationTimeout: now.Unix() + 30, TTL: now.Unix() + 30},
		{EntryKey: "x", Key: "expired-lease", Address: "10.0.0.3", AvailabilityZone: "us-west-2a", NetworkNodes: []string{"spine-1"}, Reserved: true, ReservationTimeout: now.Unix() - 1, TTL: now.Unix()},
		{EntryKey: "x", Key: "other-spine", Address: "10.0.0.4", AvailabilityZone: "us-west-2a", NetworkNodes: []string{"spine-2"}, TTL: now.Unix() + 30},
	}}
	if err := registry.SaveDocument(path, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	rcfg, tcfg := testConfigs()
	rcfg.Backend = config.RegistryFile
	rcfg.TableName = ""
	rcfg.FilePath = path

	peers, err := New(registry.NewFile(path), rcfg, tcfg).
		WithClock(func() time.Time { return now }).
		Resolve(context.Background(), Topology)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(peers) != 2 || peers[0].Key != "idle" || peers[1].Key != "expired-lease" {
		t.Fatalf("peers=%+v", peers)
	}
}

func TestResolve_MissingConfig(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	cases := []struct {
		name     string
		strategy Strategy
		mutate   func(*config.RegistryConfig, *config.TopologyConfig)
	}{
		{"table", Legacy, func(r *config.RegistryConfig, _ *config.TopologyConfig) { r.TableName = "" }},
		{"entry key", Topology, func(r *config.RegistryConfig, _ *config.TopologyConfig) { r.EntryKey = "" }},
		{"zone", Topology, func(_ *config.RegistryConfig, tc *config.TopologyConfig) { tc.AvailabilityZone = "" }},
		{"nodes", Topology, func(_ *config.RegistryConfig, tc *config.TopologyConfig) { tc.NetworkNodes = nil }},
	}
	for _, tc := range cases {
		rcfg, tcfg := testConfigs()
		tc.mutate(&rcfg, &tcfg)
		_, err := New(reg, rcfg, tcfg).Resolve(context.Background(), tc.strategy)
		if !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
}

func TestResolve_PropagatesRegistryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("registry down")
	rcfg, tcfg := testConfigs()
	r := New(&fakeRegistry{err: boom}, rcfg, tcfg)

	if _, err := r.Resolve(context.Background(), Legacy); !errors.Is(err, boom) {
		t.Fatalf("legacy err=%v", err)
	}
	if _, err := r.Resolve(context.Background(), Topology); !errors.Is(err, boom) {
		t.Fatalf("topology err=%v", err)
	}
}
