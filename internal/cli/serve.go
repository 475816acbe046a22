package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/ent0n29/solace/internal/app"
	"github.com/ent0n29/solace/internal/logging"
)

const janitorInterval = 5 * time.Second

func cmdServe() *cli.Command {
	var addr string

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP and websocket server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address (overrides APP_BIND_ADDR)",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return goerr.Wrap(err, "failed to load config")
			}
			if addr != "" {
				cfg.BindAddr = addr
			}
			logger := logging.From(ctx)

			built, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := built.Cleanup(); err != nil {
					logger.Error("cleanup failed", "error", err)
				}
			}()

			runCtx, runCancel := context.WithCancel(ctx)
			defer runCancel()
			built.Sessions.StartJanitor(runCtx, janitorInterval)

			server := &http.Server{
				Addr:              cfg.BindAddr,
				Handler:           built.API.Router(),
				ReadHeaderTimeout: 30 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting HTTP server", "addr", cfg.BindAddr, "llm_provider", built.Provider)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- goerr.Wrap(err, "failed to start server", goerr.V("addr", cfg.BindAddr))
				}
			}()

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("received shutdown signal", "signal", sig)
			case <-ctx.Done():
				logger.Info("context cancelled, shutting down")
			}

			runCancel()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				_ = server.Close()
				return goerr.Wrap(err, "graceful shutdown failed")
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
