package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bwprobe/internal/registry"
	"bwprobe/internal/resolver"
)

func peersCmd() *cobra.Command {
	var schemaVer, export string
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Resolve and print the current peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			strategy := resolver.Topology
			if schemaVer == resolver.SchemaV1 {
				strategy = resolver.Legacy
			}

			peers, err := newResolver(cmd.Context(), cfg).Resolve(cmd.Context(), strategy)
			if err != nil {
				return err
			}
			if export != "" {
				item := make(map[string]string, len(peers))
				for _, p := range peers {
					item[p.Key] = p.Address
				}
				if err := registry.SnapshotEntry(export, cfg.Registry.EntryKey, item); err != nil {
					return fmt.Errorf("export peers: %w", err)
				}
				log.Info().Str("path", export).Int("peers", len(item)).Msg("peers exported")
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(peers)
		},
	}
	cmd.Flags().StringVar(&schemaVer, "schema-ver", "v2", "v1 selects the legacy flat lookup, anything else the topology query")
	cmd.Flags().StringVar(&export, "export", "", "also write the peers as a legacy entry into this registry file")
	return cmd
}
