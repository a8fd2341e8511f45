package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"archi/internal/server"
)

func newRunCmd() *cobra.Command {
	var withServer bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent loop, serving the HTTP API unless --server=false",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("%s %s\n", bold("archi"), gray(version))
			fmt.Printf("data dir: %s\n", cyan(rt.dataDir))
			if withServer {
				fmt.Printf("dashboard: %s\n", cyan(fmt.Sprintf("http://127.0.0.1:%d", cfg.Ports.Dashboard)))
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return rt.agent.Run(ctx) })
			if withServer {
				srv := server.New(server.Config{Port: cfg.Ports.Dashboard}, rt.agent, rt.ledger, rt.monitor, rt.dreams, rt.logger)
				g.Go(func() error { return srv.Run(ctx) })
			}

			err = g.Wait()
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&withServer, "server", true, "serve the HTTP API and dashboard")
	return cmd
}
