package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gin-gonic/gin"

	"labexec/internal/api"
	"labexec/internal/archive"
	"labexec/internal/blob"
	"labexec/internal/catalog"
	"labexec/internal/config"
	"labexec/internal/core"
	"labexec/internal/events"
	"labexec/internal/observability"
	"labexec/pkg/domain"
)

// app holds everything one process builds from a Config.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	store    domain.ExecutionStore
	bus      events.Bus
	audit    *observability.AuditLog
	metrics  *observability.Metrics
	catalog  *catalog.Catalog
	archiver *archive.Archiver
	svc      *core.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := observability.NewLogger(cfg.Logging.Mode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.store, err = core.OpenPersistentStore(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("open execution store: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.BlobOptions())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.archiver = archive.New(blobs)
	a.bus, err = events.Open(ctx, cfg.EventOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("open event bus: %w", err)
	}
	a.catalog, err = loadCatalog(cfg.Catalog.Path, logger)
	if err != nil {
		return nil, err
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithArchiver(a.archiver),
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, core.WithTracer(observability.NewTracer()))
	}
	if cfg.Audit.Path != "" {
		a.audit, err = observability.OpenAuditLog(cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithAuditRecorder(a.audit))
	}
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics()
		opts = append(opts, core.WithMetricsRecorder(a.metrics))
	}
	if a.bus != nil {
		opts = append(opts, core.WithPublisher(a.bus))
	}
	a.svc = core.NewService(a.store, opts...)
	ok = true
	return a, nil
}

// loadCatalog reads the protocol directory. A missing directory yields an
// empty catalog so inline protocols still work.
func loadCatalog(path string, logger core.Logger) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.New()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("protocol catalog directory not found", "path", path)
		return catalog.New()
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load protocol catalog: %w", err)
	}
	return cat, nil
}

func (a *app) router() *gin.Engine {
	cfg := api.RouterConfig{Handler: api.NewHandler(a.svc, a.catalog, a.archiver)}
	if a.metrics != nil {
		cfg.Metrics = a.metrics.Handler()
		cfg.MetricsPath = a.cfg.Metrics.Path
	}
	return api.NewRouter(cfg)
}

// Close releases every resource the app opened.
func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.logger != nil {
		a.logger.Sync()
	}
	return errors.Join(errs...)
}
