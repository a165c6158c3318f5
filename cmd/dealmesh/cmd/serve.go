package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hupe1980/dealmesh"
	"github.com/hupe1980/dealmesh/config"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMesh(cmd, func(ctx context.Context, d *dealmesh.DealMesh, cfg *config.Config) error {
			sc := cfg.Server
			if serveAddr != "" {
				sc.Address = serveAddr
			}
			logger := logging.NewSlogLogger(
				logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, cfg.Logging.AddSource,
			).WithComponent("server")

			srv := server.New(d, func(o *server.Options) {
				o.Address = sc.Address
				o.ReadTimeout = sc.ReadTimeout
				o.WriteTimeout = sc.WriteTimeout
				o.AllowedOrigins = sc.AllowedOrigins
				o.MaxBodyBytes = sc.MaxBodyBytes
				o.MaxCars = sc.MaxCars
				o.Sessions = d
				o.Logger = logger
			})
			return srv.ListenAndServe(ctx)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	rootCmd.AddCommand(serveCmd)
}
