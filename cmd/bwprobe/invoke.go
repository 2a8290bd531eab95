package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bwprobe/internal/api"
)

func invokeCmd() *cobra.Command {
	var baseURL, schemaVer string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Call a running service's /invocations and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := api.NewClient(baseURL)
			if err := client.Ping(ctx); err != nil {
				return err
			}
			res, err := client.Invoke(ctx, api.InvocationRequest{SchemaVer: schemaVer})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"invocation_id": res.InvocationID,
				"report":        res.Report,
			})
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "base URL of the service")
	cmd.Flags().StringVar(&schemaVer, "schema-ver", "", "request schema version (v1 = legacy lookup)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall request timeout")
	return cmd
}
