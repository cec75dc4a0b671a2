package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/httpapi"
	"github.com/paxtone-io/openkodo/internal/logging"
	"github.com/paxtone-io/openkodo/internal/telemetry"
)

var (
	// serve command flags
	serveAddr string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API",
	Long: `Serve query, context generation, and record listing over HTTP on a
loopback address. The API is read-only; writes stay with the CLI and
the MCP tools.

Examples:
  # Default address from config (127.0.0.1:7433)
  kodo serve

  # Override the listen address
  kodo serve --addr 127.0.0.1:9000`,
	Args: exactArgs(0),
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	daemonLog = true
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	defer func() { _ = logging.Sync(logger) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel := telemetry.New(ctx, telemetry.Options{
		Config:  cfg.Telemetry,
		Version: version,
		Logger:  logger,
	})
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	serverCfg := cfg.Server
	if serveAddr != "" {
		serverCfg.Addr = serveAddr
	}
	srv, err := httpapi.New(httpapi.Options{
		Records:   eng.Records(),
		Index:     eng.Index(),
		Generator: eng.Generator(),
		Config:    serverCfg,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
