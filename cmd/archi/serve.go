package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"archi/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API without the background loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			if port > 0 {
				cfg.Ports.Dashboard = port
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("%s listening on %s\n", bold("archi"), cyan(fmt.Sprintf("http://127.0.0.1:%d", cfg.Ports.Dashboard)))
			srv := server.New(server.Config{Port: cfg.Ports.Dashboard}, rt.agent, rt.ledger, rt.monitor, rt.dreams, rt.logger)
			if err := srv.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override the dashboard port")
	return cmd
}
