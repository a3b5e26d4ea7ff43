package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poa-ops/poactl/internal/apply"
	"github.com/poa-ops/poactl/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP admin API (status, validate, apply, kis, backups, metrics)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newZapLogger()
		defer logger.Sync() //nolint:errcheck

		store := newStore()
		// rebuilt per apply so the verification probe follows the port of
		// the document being applied
		orchestrators := func() (*apply.Orchestrator, error) {
			return newOrchestrator(store, logger)
		}
		server := web.NewServer(store, orchestrators, newBackupManager(logger), newReporter(logger), logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out.Info("admin API on %s", serveAddr)
		return server.ListenAndServe(ctx, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8787", "listen address")
	rootCmd.AddCommand(serveCmd)
}
