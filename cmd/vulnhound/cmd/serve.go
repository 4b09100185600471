package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulnhound/vulnhound/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Long: `Start an HTTP server exposing session status: listings, per-session
detail and stats, report JSON, and global aggregates. The API is read-only;
scans are started from the CLI.

Endpoints:
  GET /health
  GET /api/v1/sessions
  GET /api/v1/sessions/{id}
  GET /api/v1/sessions/{id}/stats
  GET /api/v1/sessions/{id}/report?min_confidence=N
  GET /api/v1/stats`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"listen address (default from config, 127.0.0.1:8741)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	addr := d.cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		addr = serveAddr
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	server := api.NewServer(d.store,
		api.WithLogger(d.logger),
		api.WithVersion(appVersion),
	)

	if !quiet {
		fmt.Printf("status server listening on http://%s\n", addr)
	}
	return server.ListenAndServe(ctx, addr)
}
