package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gatemesh/pathsync/internal/api"
	"github.com/gatemesh/pathsync/internal/config"
	"github.com/gatemesh/pathsync/internal/runner"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var (
		addr        string
		noScheduler bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and run schedules",
		Long: `Serve the HTTP API for paths, flow control, schedules and sync, and fire
due schedules in the background. The OpenAPI document is at /openapi.json.

Node sections are reloaded when the config file changes or on SIGHUP
(see 'pathsync reload').`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			if addr == "" {
				addr = cc.Cfg.API.ListenAddr
			}

			return runDaemon(cmd.Context(), cc, func(ctx context.Context, a *app, r *runner.Runner) error {
				g, gctx := errgroup.WithContext(ctx)

				if !noScheduler {
					g.Go(func() error { return r.Run(gctx) })
				}

				g.Go(func() error {
					return serveAPI(gctx, addr, api.New(api.Config{
						Paths:     a.paths,
						Registry:  a.registry,
						Engine:    a.engine,
						Flow:      a.flow,
						Sync:      a.orchestrator(nil),
						Transport: a.transport,
						Logger:    a.logger,
					}), a.logger)
				})

				return g.Wait()
			})
		},
	}

	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default from [api] listen_addr)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without firing schedules")

	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fire due schedules without serving the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return runDaemon(cmd.Context(), cc, func(ctx context.Context, _ *app, r *runner.Runner) error {
				return r.Run(ctx)
			})
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running daemon to reload its node registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := sendSIGHUP(pidFilePath()); err != nil {
				return err
			}

			cc.Statusf("Reload requested\n")

			return nil
		},
	}
}

// runDaemon holds the PID file, opens the app and builds a runner for fn.
// The context given to fn is canceled on SIGINT or SIGTERM, and SIGHUP
// reloads the node registry.
func runDaemon(ctx context.Context, cc *CLIContext, fn func(context.Context, *app, *runner.Runner) error) error {
	cleanup, err := writePIDFile(pidFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx = shutdownContext(ctx, cc.Logger)

	return withApp(ctx, cc, func(a *app) error {
		r := runner.New(runner.Config{
			Paths:        a.paths,
			Engine:       a.engine,
			Flow:         a.flow,
			Registry:     a.registry,
			Holder:       config.NewHolder(cc.Cfg, cc.CfgPath),
			TickInterval: cc.Cfg.Schedule.TickIntervalDuration(),
			Logger:       a.logger,
		})

		reloadOnHangup(ctx, a.logger, r.Reload)

		return fn(ctx, a, r)
	})
}

// serveAPI serves h on addr until ctx is canceled, then drains in-flight
// requests.
func serveAPI(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info("API listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("serving API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving API: %w", err)
	}

	logger.Info("API stopped")

	return nil
}
