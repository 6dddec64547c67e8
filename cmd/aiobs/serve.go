package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cmcmaster1/ai-observability-tool/internal/api"
	"github.com/cmcmaster1/ai-observability-tool/internal/config"
	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API over HTTP and the observer over MCP stdio",
	Long: `Serve the read-only JSON API on 127.0.0.1 and, unless --no-mcp is given,
an MCP server on stdin/stdout that agent code uses to report crew runs.

Both stop on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noMCP, _ := cmd.Flags().GetBool("no-mcp")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return withStore(func(cfg config.Config, store *storage.Store) error {
			return runServer(ctx, cfg, store, !noMCP)
		})
	},
}

func init() {
	serveCmd.Flags().Bool("no-mcp", false, "do not serve MCP on stdio")
}

func runServer(ctx context.Context, cfg config.Config, store *storage.Store, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "aiobs version %s\n", version)

	if cfg.Server.Token == "" {
		slog.Info("read API bearer auth disabled; set AIOBS_SERVER_TOKEN to enable it")
	}

	var stdioSrv *server.StdioServer
	if withMCP {
		obs, err := newObserver(cfg, store)
		if err != nil {
			return err
		}
		stdioSrv = server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Store: store, Observer: obs}))
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewAppHandler(api.AppDeps{Store: store, Token: cfg.Server.Token}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("read API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if stdioSrv != nil {
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
