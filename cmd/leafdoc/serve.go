// cmd/leafdoc/serve.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/leafdoc/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the diagnosis HTTP API until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		k, err := a.kernel(cmd.Context())
		if err != nil {
			return err
		}
		sc := a.cfg.Server
		handler := server.NewHandler(k, a.db, sc.APIKey, sc.MaxPayloadBytes, a.logger)
		return server.New(sc, handler, a.logger).Run(cmd.Context())
	},
}
