package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dan-solli/mnemo/pkg/httpapi"
	"github.com/dan-solli/mnemo/pkg/mcpserver"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream and dashboard",
		Long: `Run the HTTP API until interrupted.

The config file is watched and re-applied on change.

Examples:
  mnemo serve
  mnemo serve --addr 127.0.0.1:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.config.Current()
			if addr == "" {
				addr = cfg.Server.HTTPAddr
			}
			httpapi.Version = Version
			srv := httpapi.New(a.engine, httpapi.Options{
				Logger:       a.logger,
				DashboardDir: cfg.Server.DashboardDir,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Serve(gctx, addr, cfg.Server.ShutdownTimeout)
			})
			g.Go(func() error {
				return a.config.Watch(gctx, a.logger)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.http_addr)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcpserver.New(a.engine, Version)
			a.logger.Info("mcp server started", "transport", "stdio")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := srv.Run(gctx, &mcp.StdioTransport{})
				interrupted := gctx.Err() != nil
				// stdin closing ends the session; stop the watcher too.
				stop()
				if interrupted {
					return nil
				}
				return err
			})
			g.Go(func() error {
				return a.config.Watch(gctx, a.logger)
			})
			return g.Wait()
		},
	}
}
