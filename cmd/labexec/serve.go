package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"labexec/pkg/domain"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg.Logging.Mode, func() (*app, error) { return newApp(ctx, cfg) })
		},
	}
}

func serve(ctx context.Context, mode string, build func() (*app, error)) error {
	if mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	a, err := build()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv := &http.Server{
		Addr:              a.cfg.Address(),
		Handler:           a.router(),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.bus != nil {
		err := a.bus.StartForwarder(gctx, func(ev domain.ExecutionEvent) {
			a.logger.Debug("execution event", "execution_id", ev.ExecutionID, "operation", ev.Operation, "version", ev.Version)
		})
		if err != nil {
			return err
		}
	}
	g.Go(func() error {
		a.logger.Info("labexec listening", "addr", srv.Addr, "storage", a.cfg.Storage.Driver, "blob", a.cfg.Blob.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
