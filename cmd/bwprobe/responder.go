package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bwprobe/internal/echo"
)

func responderCmd() *cobra.Command {
	var listen []string
	cmd := &cobra.Command{
		Use:   "responder",
		Short: "Run UDP echo responders for the echo measurement backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if len(listen) == 0 {
				for _, port := range cfg.Measure.Ports {
					listen = append(listen, ":"+strconv.Itoa(port))
				}
			}

			responders := make([]*echo.Responder, 0, len(listen))
			defer func() {
				for _, r := range responders {
					_ = r.Close()
				}
			}()
			for _, addr := range listen {
				r, err := echo.StartResponder(addr)
				if err != nil {
					return err
				}
				responders = append(responders, r)
				log.Info().Str("listen", r.LocalAddr()).Msg("echo responder started")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&listen, "listen", nil, "UDP address to listen on (repeatable, default: every configured port)")
	return cmd
}
