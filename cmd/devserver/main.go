// Command devserver runs the in-memory chat server used for local
// development of the client.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blinkchat-client/internal/config"
	"blinkchat-client/internal/devserver"
	"blinkchat-client/internal/observability"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		envPath  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the in-memory chat server",
		Long: `Run a chat server that keeps users and messages in memory.

It serves the login, user and message endpoints under /api/v1 and the
WebSocket endpoint at /ws?token=<jwt>. Demo accounts alice@example.com and
bob@example.com (password "password") are created unless SEED_USERS=false.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), envPath, logLevel)
		},
	}

	cmd.Flags().StringVar(&envPath, "env", ".env", "Path to .env file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	return cmd
}

func runServer(ctx context.Context, envPath, logLevel string) error {
	logger := observability.InitLogger("devserver", logLevel, os.Stderr)
	cfg := config.LoadDevServer(envPath)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := devserver.New(cfg, logger)
	if cfg.SeedUsers {
		if err := srv.Seed(ctx); err != nil {
			return err
		}
	}
	go srv.Run(ctx)

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	logger.Info().Msg("server exiting")
	return nil
}
