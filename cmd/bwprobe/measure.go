package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bwprobe/internal/aggregate"
	"bwprobe/internal/coordinator"
	"bwprobe/internal/model"
)

func measureCmd() *cobra.Command {
	var peerAddr string
	var ports []int
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure one host on every configured port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(ports) > 0 {
				cfg.Measure.Ports = ports
			}

			coord := coordinator.New(newFactory(cfg.Measure), cfg.Measure, nil)
			total := coord.Gather(cmd.Context(), model.Peer{Key: peerAddr, Address: peerAddr})

			results := append([]model.Result(nil), total.Results...)
			sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tMBPS\tSTATUS")
			for _, r := range results {
				status := "ok"
				switch {
				case r.TimedOut:
					status = "timeout"
				case r.Err != nil:
					status = r.Err.Error()
				}
				fmt.Fprintf(w, "%d\t%.2f\t%s\n", r.Port, r.ThroughputMbps, status)
			}
			fmt.Fprintf(w, "TOTAL\t%.2f\t%s\n", total.TotalMbps, aggregate.FormatGbps(aggregate.Gbps(total.TotalMbps)))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&peerAddr, "peer", "", "host to measure")
	cmd.Flags().IntSliceVar(&ports, "port", nil, "override the configured port set (repeatable)")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}
