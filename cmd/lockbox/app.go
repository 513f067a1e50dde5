package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/audit"
	"github.com/n3tuk/time-locked-savings/internal/clock"
	"github.com/n3tuk/time-locked-savings/internal/config"
	"github.com/n3tuk/time-locked-savings/internal/health"
	"github.com/n3tuk/time-locked-savings/internal/ledger"
	"github.com/n3tuk/time-locked-savings/internal/logger"
	"github.com/n3tuk/time-locked-savings/internal/metrics"
	"github.com/n3tuk/time-locked-savings/internal/storage"
	"github.com/n3tuk/time-locked-savings/internal/store"
)

// olricKeyPrefix namespaces the snapshot keys inside the DMap.
const olricKeyPrefix = "lockbox/"

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	ledger  *ledger.Ledger
	repo    storage.Repository
	health  *health.Manager

	olric *store.OlricStore
	async *audit.AsyncSink
}

// newApp builds the logger, metrics, audit sinks, repository and ledger
// from cfg. The ledger is empty until load is called.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		cfg: cfg,
		log: log,
		metrics: metrics.NewMetrics(cfg.MetricsNamespace, map[string]string{
			"version": version,
			"commit":  commit,
			"date":    date,
		}),
	}
	a.health = health.NewManager(log, a.metrics, cfg.HealthCheckCacheDuration, cfg.HealthCheckTimeout)
	a.health.RegisterChecker(health.NewReadinessChecker(log))

	var sink audit.Sink = audit.MultiSink{
		audit.NewFileSink(cfg.ReceiptsDir, log),
		audit.NewMetricsSink(a.metrics),
	}
	if cfg.AuditAsync {
		a.async = audit.NewAsyncSink(sink, cfg.AuditQueueSize, log)
		sink = a.async
	}

	switch cfg.StorageBackend {
	case config.BackendOlric:
		s, err := store.NewOlricStore(ctx, cfg.Olric, log)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("failed to start olric store: %w", err)
		}
		a.olric = s
		a.repo = storage.NewOlricRepository(s, olricKeyPrefix, log)

		a.health.RegisterChecker(store.NewConnectionHealthChecker(log, s))
		a.health.RegisterChecker(store.NewClusterHealthChecker(log, s, cfg.Olric.MemberCountQuorum, cfg.Olric.IsSingleNode()))
		a.health.RegisterChecker(store.NewStorageHealthChecker(log, s))
	default:
		repo := storage.NewFileRepository(cfg.DataDir, log)
		a.repo = repo
		a.health.RegisterChecker(health.NewStorageChecker(log, repo))
	}

	a.ledger = ledger.New(ledger.Options{
		Clock:         clock.System{},
		Sink:          sink,
		Logger:        log,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	})

	return a, nil
}

// load restores the ledger from the repository.
func (a *app) load(ctx context.Context) error {
	snap, report, err := a.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	a.ledger.Restore(snap)
	a.health.SetLoaded(true)

	if report != nil && (len(report.Skipped) > 0 || report.Orphaned > 0) {
		a.log.Warn("Ledger loaded with discarded records",
			zap.Int("skipped", len(report.Skipped)),
			zap.Int("orphaned", report.Orphaned),
		)
	}
	a.metrics.SetLedgerGauges(len(snap.Accounts), a.ledger.Totals().ActiveLockBoxes)
	return nil
}

// save flushes the ledger to the repository.
func (a *app) save(ctx context.Context) error {
	err := a.repo.Save(ctx, a.ledger.Snapshot())
	a.metrics.RecordSnapshotSave(err)
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	a.log.Info("Ledger saved")
	return nil
}

// close drains pending audit events and stops the Olric node. It does not
// save the ledger.
func (a *app) close(ctx context.Context) {
	if a.async != nil {
		a.async.Close()
	}
	if a.olric != nil {
		if err := a.olric.Close(ctx); err != nil {
			a.log.Error("Failed to close olric store", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
