// Package app is the composition root: it wires storage, the active
// working set, the clustering registry, the prediction cascade, and every
// REST/streaming surface together, the same role the teacher's engine.go
// Engine struct plays for the crawl pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/adapterhealth"
	"github.com/raceboard/server/internal/admin"
	"github.com/raceboard/server/internal/cluster"
	"github.com/raceboard/server/internal/config"
	"github.com/raceboard/server/internal/ingest"
	"github.com/raceboard/server/internal/predict"
	"github.com/raceboard/server/internal/query"
	"github.com/raceboard/server/internal/race"
	"github.com/raceboard/server/internal/store"
	"github.com/raceboard/server/internal/streaming"
	"github.com/raceboard/server/internal/telemetry/logging"
	"github.com/raceboard/server/internal/telemetry/metrics"
)

type App struct {
	cfg     config.Config
	log     logging.Logger
	metrics metrics.Provider

	store     *store.Store
	active    *activestore.Store
	registry  *cluster.Registry
	cascade   *predict.Cascade
	health    *adapterhealth.Registry
	rebuilder *cluster.Rebuilder

	hub *streaming.Hub
	cron *cron.Cron

	httpServer   *http.Server
	streamServer *http.Server
}

// New builds every subsystem but does not start background goroutines or
// listeners; call Start for that, mirroring the teacher engine's
// construct-then-Start split so tests can inspect wiring without binding
// sockets.
func New(cfg config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.New(slog.LevelInfo)
	}
	mp, err := metrics.Select(metrics.Backend(cfg.MetricsBackend), "raceboard")
	if err != nil {
		return nil, fmt.Errorf("select metrics backend: %w", err)
	}
	if !cfg.MetricsEnabled {
		mp, _ = metrics.Select(metrics.BackendNoop, "raceboard")
	}

	st, err := store.Open(store.Options{
		Path:            cfg.Storage.Path,
		ReadOnly:        cfg.Server.ReadOnly,
		FlushBatch:      cfg.Storage.FlushBatch,
		FlushIntervalMs: cfg.Storage.FlushIntervalMs,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	active := activestore.New(cfg.Active.MaxRaces, cfg.Active.MaxEventsPerRace)
	active.OnEvict(func(r *race.Race) {
		log.Warn("evicting oldest active race", "id", r.ID)
		mp.IncCounter("evictions_total", nil, 1)
		if err := st.PutRace(r); err != nil {
			log.Error("failed to persist evicted race", "id", r.ID, "err", err)
		}
	})

	registry := cluster.NewRegistry()
	weights := cluster.Weights{Title: cfg.Cluster.WTitle, Metadata: cfg.Cluster.WMeta}
	cascade := predict.NewCascade(registry, st, weights, cfg.Prediction.SourceDefaults, cfg.Prediction.BootstrapDefaults, defaultBootstrapETA(cfg))

	healthReg := adapterhealth.NewRegistry(adapterhealth.Thresholds{
		InitializingGrace: cfg.Health.ReportGrace,
		DelayedMult:       cfg.Health.DelayedMult,
		AbsentMult:        cfg.Health.AbsentMult,
		AbandonedMult:     cfg.Health.AbandonedMult,
		TTLAbandoned:      cfg.Health.TTLAbandoned,
		TTLStopped:        cfg.Health.TTLStopped,
		MaxPerType:        cfg.Health.MaxPerType,
		MaxTotal:          cfg.Health.MaxTotal,
	}, nil)

	rebuilder := cluster.NewRebuilder(st, st, registry, cluster.RebuildConfig{
		EpsRange:           cfg.Cluster.EpsRange,
		MinSamples:         cfg.Cluster.MinSamples,
		Weights:            weights,
		KneedleSensitivity: cfg.Cluster.KneedleSensitivity,
		EpsEMASmoothing:    cfg.Cluster.EpsEMASmoothing,
		MaxDuration:        cfg.Cluster.MaxRebuildDuration,
	}, log)

	a := &App{
		cfg: cfg, log: log, metrics: mp,
		store: st, active: active, registry: registry, cascade: cascade,
		health: healthReg, rebuilder: rebuilder,
		hub: streaming.NewHub(active, log),
	}
	return a, nil
}

func defaultBootstrapETA(cfg config.Config) int {
	if len(cfg.Prediction.BootstrapDefaults) == 0 {
		return 60
	}
	sum := 0
	for _, v := range cfg.Prediction.BootstrapDefaults {
		sum += v
	}
	return sum / len(cfg.Prediction.BootstrapDefaults)
}

// httpRouter assembles the mux.Router serving the ingestion, query, and
// admin surfaces on the primary HTTP port.
func (a *App) httpRouter() *mux.Router {
	r := mux.NewRouter()
	ingestSrv := ingest.NewServer(a.active, a.store, a.cascade, cluster.Weights{Title: a.cfg.Cluster.WTitle, Metadata: a.cfg.Cluster.WMeta}, a.metrics, a.log, ingest.Config{
		ReadOnly: a.cfg.Server.ReadOnly,
	})
	querySrv := query.NewServer(a.active, a.store, a.log)
	adminSrv := admin.NewServer(a.active, a.store, a.metrics, a.log, snapshotDirFor(a.cfg.Storage.Path), a.cfg.Server.ReadOnly)
	healthSrv := adapterhealth.NewServer(a.health, a.log)

	ingestSrv.Routes(r)
	querySrv.Routes(r)
	adminSrv.Routes(r)
	healthSrv.Routes(r)
	return r
}

func snapshotDirFor(dbPath string) string {
	for i := len(dbPath) - 1; i >= 0; i-- {
		if dbPath[i] == '/' {
			return dbPath[:i]
		}
	}
	return "."
}

// Start schedules the cron-driven rebuild, health scan, and idempotency sweep
// jobs, binds both listeners, and then blocks until a listener fails or ctx
// is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.cron = cron.New()

	scanner := adapterhealth.NewScanner(a.health, a.log)
	if _, err := scanner.Register(a.cron, "@every 10s"); err != nil {
		return fmt.Errorf("register health scanner: %w", err)
	}
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", a.cfg.Cluster.RebuildInterval), func() {
		rebuildCtx, cancel := context.WithTimeout(ctx, a.cfg.Cluster.MaxRebuildDuration)
		defer cancel()
		if err := a.rebuilder.Run(rebuildCtx); err != nil {
			a.log.Error("cluster rebuild failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("register rebuild job: %w", err)
	}
	if _, err := a.cron.AddFunc("@every 1h", func() {
		if n, err := a.store.SweepExpiredIdempotencyTokens(time.Now()); err != nil {
			a.log.Error("idempotency sweep failed", "err", err)
		} else if n > 0 {
			a.log.Info("swept expired idempotency tokens", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("register idempotency sweep job: %w", err)
	}
	a.cron.Start()

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.HTTPHost, a.cfg.Server.HTTPPort),
		Handler: a.httpRouter(),
	}
	streamRouter := mux.NewRouter()
	streamRouter.HandleFunc("/stream/race/{id}", func(w http.ResponseWriter, r *http.Request) {
		a.hub.ServeRace(w, r, mux.Vars(r)["id"])
	})
	streamRouter.HandleFunc("/stream/all", a.hub.ServeAll)
	a.streamServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.HTTPHost, a.cfg.Server.StreamPort),
		Handler: streamRouter,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- a.httpServer.ListenAndServe() }()
	go func() { errCh <- a.streamServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
	}
	return nil
}

// Stop gracefully shuts down both listeners and the cron scheduler, then
// closes the durable store last so any in-flight write finishes first.
func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-time.After(5 * time.Second):
		}
	}
	if a.httpServer != nil {
		a.httpServer.Shutdown(ctx)
	}
	if a.streamServer != nil {
		a.streamServer.Shutdown(ctx)
	}
	return a.store.Close()
}
