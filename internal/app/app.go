// Package app wires the murmur runtime: config, logging, the ops HTTP
// surface, and the sync pipeline lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"murmur/internal/archive"
	"murmur/internal/dm"
	"murmur/internal/dmsync"
	"murmur/internal/identity"
	"murmur/internal/relay"
)

// App owns the wired runtime: archive, relay pool, chat store, coordinator,
// and the ops HTTP server.
type App struct {
	cfg Config
	log Logger

	keys    *identity.Keys
	archive archive.Archive
	pool    relay.Pool
	store   *dm.Store
	coord   *dmsync.Coordinator
	reg     *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	keys, err := loadIdentity(cfg)
	if err != nil {
		return nil, err
	}

	arch, err := newArchive(cfg, log)
	if err != nil {
		return nil, err
	}

	pool := relay.NewWSPool(log, relay.Options{})
	store := dm.NewStore(log, keys.Public(), archive.ForAccount(arch, keys.Public()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coord := dmsync.New(log, pool, store, arch, keys, dmsync.NewMetrics(reg), dmsync.Options{
		QueryTimeout:    cfg.QueryTimeout,
		PageSize:        cfg.PageSize,
		BackfillBuffer:  cfg.BackfillBuffer,
		AccountRelays:   cfg.Relays,
		DiscoveryRelays: cfg.DiscoveryRelays,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		keys:    keys,
		archive: arch,
		pool:    pool,
		store:   store,
		coord:   coord,
		reg:     reg,
	}, nil
}

// Coordinator exposes the sync coordinator for embedding callers.
func (a *App) Coordinator() *dmsync.Coordinator { return a.coord }

// Run starts the ops HTTP server and the sync pipeline, blocking until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.coord, a.reg)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	a.log.Info("app.start",
		"addr", a.cfg.HTTPAddr,
		"npub", a.keys.Npub(),
		"read_only", a.keys.ReadOnly(),
		"archive", a.cfg.ArchivePath,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		if err := a.coord.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("sync.start.fail", "err", err)
		}
	}()
	go a.refreshLoop(ctx)

	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("app.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("app.shutdown.fail", "err", err)
	}

	a.coord.Logout()
	a.pool.Close()
	if err := a.archive.Close(); err != nil {
		a.log.Error("archive.close.fail", "err", err)
	}

	a.log.Info("app.stopped")
	return nil
}

// refreshLoop runs periodic incremental syncs. An ErrBusy tick is normal:
// another sync was still running and the next tick covers the gap.
func (a *App) refreshLoop(ctx context.Context) {
	if a.cfg.RefreshInterval <= 0 {
		return
	}
	t := time.NewTicker(a.cfg.RefreshInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.coord.Refresh(ctx); err != nil {
				if errors.Is(err, dmsync.ErrBusy) {
					a.log.Debug("sync.refresh.skip", "reason", "busy")
					continue
				}
				a.log.Warn("sync.refresh.fail", "err", err)
			}
		}
	}
}

func loadIdentity(cfg Config) (*identity.Keys, error) {
	switch {
	case cfg.SecretKey != "":
		return identity.FromSecret(cfg.SecretKey)
	case cfg.PublicKey != "":
		return identity.FromPublic(cfg.PublicKey)
	default:
		return nil, fmt.Errorf("no identity configured: set MURMUR_SECRET_KEY or MURMUR_PUBLIC_KEY")
	}
}

func newArchive(cfg Config, log Logger) (archive.Archive, error) {
	if cfg.ArchivePath == "" {
		log.Info("archive.memory")
		return archive.NewMemory(), nil
	}
	arch, err := archive.OpenSQLite(cfg.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	log.Info("archive.sqlite", "path", cfg.ArchivePath)
	return arch, nil
}
