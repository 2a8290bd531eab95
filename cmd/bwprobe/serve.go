package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bwprobe/internal/coordinator"
	"bwprobe/internal/server"
	"bwprobe/internal/stunutil"
	"bwprobe/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (/ping, /invocations, /status)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			inst, shutdownMetrics, err := telemetry.Init(ctx, cfg.Telemetry, Version)
			if err != nil {
				log.Warn().Err(err).Msg("metrics disabled")
				inst = telemetry.NewNoopInstruments()
				shutdownMetrics = func(context.Context) error { return nil }
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownMetrics(flushCtx); err != nil {
					log.Warn().Err(err).Msg("flush metrics failed")
				}
			}()

			coord := coordinator.New(newFactory(cfg.Measure), cfg.Measure, inst)
			srv := server.New(cfg, Version, newResolver(ctx, cfg), coord, inst)

			if len(cfg.STUN.Servers) > 0 {
				go func() {
					m, err := stunutil.Discover(ctx, cfg.STUN)
					if err != nil {
						log.Warn().Err(err).Msg("stun discovery failed")
						return
					}
					log.Info().Str("public_addr", m.PublicAddr).Str("nat_type", m.NATType).Msg("stun discovery done")
					srv.SetSTUN(m)
				}()
			}

			log.Info().
				Str("version", Version).
				Str("measure_backend", cfg.Measure.Backend).
				Str("registry_backend", cfg.Registry.Backend).
				Ints("ports", cfg.Measure.Ports).
				Msg("starting bwprobe")
			return srv.ListenAndServe(ctx, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time to drain in-flight requests on shutdown")
	return cmd
}
