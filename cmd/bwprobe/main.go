package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bwprobe/internal/config"
	"bwprobe/internal/echo"
	"bwprobe/internal/execx"
	"bwprobe/internal/iperf"
	"bwprobe/internal/logging"
	"bwprobe/internal/measure"
	"bwprobe/internal/registry"
	"bwprobe/internal/resolver"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bwprobe",
	Short: "Bandwidth measurement service for prompt peers",
	Long: `bwprobe measures network bandwidth between this host and a set of
peer servers discovered from the routing registry. It runs as a serving
container (serve) or as one-off CLI commands.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config (optional, env overrides it)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd(), peersCmd(), measureCmd(), responderCmd(), invokeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads, validates and applies the logging section.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, err
	}
	logging.Init(cfg.Logging)
	return cfg, nil
}

func newFactory(mcfg config.MeasureConfig) measure.Factory {
	if mcfg.Backend == config.BackendEcho {
		return &echo.Factory{PacketSize: mcfg.EchoPacketSize}
	}
	return iperf.NewFactory(execx.NewOSRunner(), mcfg.IperfBinary)
}

// newResolver opens the registry. A registry that cannot be opened is logged
// and leaves the resolver without one, so resolution fails per request while
// the process stays up.
func newResolver(ctx context.Context, cfg config.Config) *resolver.Resolver {
	reg, err := registry.Open(ctx, cfg.Registry)
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.Registry.Backend).Msg("open registry failed")
		return resolver.New(nil, cfg.Registry, cfg.Topology)
	}
	return resolver.New(reg, cfg.Registry, cfg.Topology)
}
