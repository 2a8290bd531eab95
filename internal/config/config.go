package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bwprobe/internal/model"
)

const (
	DefaultListen          = ":8080"
	DefaultRegion          = "us-west-2"
	DefaultQueryLimit      = 100
	DefaultBackend         = BackendIperf
	DefaultRegistryBackend = RegistryDynamo
	DefaultIperfBinary     = "iperf3"
	DefaultTaskGrace       = 15 * time.Second
	DefaultEchoPacketSize  = 1200
	DefaultSTUNTimeout     = 5 * time.Second
	DefaultExportInterval  = 60 * time.Second
	DefaultServiceName     = "bwprobe"
)

const (
	BackendIperf = "iperf3"
	BackendEcho  = "echo"

	RegistryDynamo = "dynamo"
	RegistryFile   = "file"
)

// Config holds every setting of the service. It is built once at startup and
// passed explicitly to the components that need it.
type Config struct {
	Listen    string          `mapstructure:"listen"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Topology  TopologyConfig  `mapstructure:"topology"`
	Measure   MeasureConfig   `mapstructure:"measure"`
	STUN      STUNConfig      `mapstructure:"stun"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RegistryConfig selects and configures the peer routing registry.
type RegistryConfig struct {
	Backend    string `mapstructure:"backend"`
	TableName  string `mapstructure:"table_name"`
	EntryKey   string `mapstructure:"entry_key"`
	Region     string `mapstructure:"region"`
	Endpoint   string `mapstructure:"endpoint"` // optional DynamoDB endpoint override
	FilePath   string `mapstructure:"file_path"`
	QueryLimit int    `mapstructure:"query_limit"`
}

// TopologyConfig describes where this node sits in the network.
type TopologyConfig struct {
	AvailabilityZone string   `mapstructure:"availability_zone"`
	NetworkNodes     []string `mapstructure:"network_nodes"`
}

// Spine is the first network node, used to scope topology queries.
func (t TopologyConfig) Spine() string {
	if len(t.NetworkNodes) == 0 {
		return ""
	}
	return t.NetworkNodes[0]
}

type MeasureConfig struct {
	Backend         string        `mapstructure:"backend"`
	Ports           []int         `mapstructure:"ports"`
	Streams         int           `mapstructure:"streams"`
	Duration        time.Duration `mapstructure:"duration"`
	TaskGrace       time.Duration `mapstructure:"task_grace"`
	PeerConcurrency int           `mapstructure:"peer_concurrency"`
	IperfBinary     string        `mapstructure:"iperf_binary"`
	EchoPacketSize  int           `mapstructure:"echo_packet_size"`
}

// TaskTimeout bounds a single measurement task.
func (m MeasureConfig) TaskTimeout() time.Duration {
	return m.Duration + m.TaskGrace
}

type STUNConfig struct {
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
	ServiceName    string        `mapstructure:"service_name"`
}

// envBindings maps config keys to the environment variables the serving
// container is launched with.
var envBindings = map[string]string{
	"listen":                     "BWPROBE_LISTEN",
	"logging.level":              "BWPROBE_LOG_LEVEL",
	"logging.format":             "BWPROBE_LOG_FORMAT",
	"registry.backend":           "BWPROBE_REGISTRY_BACKEND",
	"registry.table_name":        "ROUTING_TABLE_NAME",
	"registry.entry_key":         "ROUTING_ENTRY_KEY",
	"registry.region":            "AWS_REGION",
	"registry.endpoint":          "BWPROBE_DYNAMODB_ENDPOINT",
	"registry.file_path":         "BWPROBE_REGISTRY_FILE",
	"topology.availability_zone": "AWS_AVAILABILITY_ZONE",
	"topology.network_nodes":     "AWS_NETWORK_NODES",
	"measure.backend":            "BWPROBE_MEASURE_BACKEND",
	"telemetry.otlp_endpoint":    "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads an optional YAML config file and layers environment overrides on
// top of it. An empty path means environment and defaults only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("registry.backend", DefaultRegistryBackend)
	v.SetDefault("registry.region", DefaultRegion)
	v.SetDefault("registry.query_limit", DefaultQueryLimit)
	v.SetDefault("measure.backend", DefaultBackend)
	v.SetDefault("measure.streams", model.DefaultStreams)
	v.SetDefault("measure.duration", model.DefaultDuration)
	v.SetDefault("measure.task_grace", DefaultTaskGrace)
	v.SetDefault("measure.peer_concurrency", 1)
	v.SetDefault("stun.timeout", DefaultSTUNTimeout)
	v.SetDefault("telemetry.export_interval", DefaultExportInterval)
	v.SetDefault("telemetry.service_name", DefaultServiceName)
}

// ApplyDefaults fills in default values when empty. It also normalizes the
// network node list, which arrives from the environment as "a, b, c".
func ApplyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = DefaultRegistryBackend
	}
	if cfg.Registry.Region == "" {
		cfg.Registry.Region = DefaultRegion
	}
	if cfg.Registry.QueryLimit <= 0 {
		cfg.Registry.QueryLimit = DefaultQueryLimit
	}
	cfg.Topology.NetworkNodes = splitNodes(cfg.Topology.NetworkNodes)

	if cfg.Measure.Backend == "" {
		cfg.Measure.Backend = DefaultBackend
	}
	if len(cfg.Measure.Ports) == 0 {
		cfg.Measure.Ports = append([]int(nil), model.DefaultPorts...)
	}
	if cfg.Measure.Streams <= 0 {
		cfg.Measure.Streams = model.DefaultStreams
	}
	if cfg.Measure.Duration <= 0 {
		cfg.Measure.Duration = model.DefaultDuration
	}
	if cfg.Measure.TaskGrace <= 0 {
		cfg.Measure.TaskGrace = DefaultTaskGrace
	}
	if cfg.Measure.PeerConcurrency <= 0 {
		cfg.Measure.PeerConcurrency = 1
	}
	if cfg.Measure.IperfBinary == "" {
		cfg.Measure.IperfBinary = DefaultIperfBinary
	}
	if cfg.Measure.EchoPacketSize <= 0 {
		cfg.Measure.EchoPacketSize = DefaultEchoPacketSize
	}

	if cfg.STUN.Timeout <= 0 {
		cfg.STUN.Timeout = DefaultSTUNTimeout
	}
	if cfg.Telemetry.ExportInterval <= 0 {
		cfg.Telemetry.ExportInterval = DefaultExportInterval
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks the settings needed to start the process. Registry lookup
// settings (table, entry key, zone) are checked when peers are resolved so the
// liveness endpoint keeps working without them.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	switch cfg.Registry.Backend {
	case RegistryDynamo:
	case RegistryFile:
		if cfg.Registry.FilePath == "" {
			return fmt.Errorf("registry.file_path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown registry.backend %q", cfg.Registry.Backend)
	}
	switch cfg.Measure.Backend {
	case BackendIperf, BackendEcho:
	default:
		return fmt.Errorf("unknown measure.backend %q", cfg.Measure.Backend)
	}
	if len(cfg.Measure.Ports) == 0 {
		return fmt.Errorf("measure.ports must not be empty")
	}
	seen := make(map[int]bool, len(cfg.Measure.Ports))
	for _, p := range cfg.Measure.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("measure.ports: invalid port %d", p)
		}
		if seen[p] {
			return fmt.Errorf("measure.ports: duplicate port %d", p)
		}
		seen[p] = true
	}
	if cfg.Measure.Streams <= 0 {
		return fmt.Errorf("measure.streams must be > 0")
	}
	if cfg.Measure.Duration <= 0 {
		return fmt.Errorf("measure.duration must be > 0")
	}
	return nil
}

func splitNodes(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
