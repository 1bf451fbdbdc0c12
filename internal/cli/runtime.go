package cli

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/api"
	"github.com/roach88/stateindex/internal/config"
	"github.com/roach88/stateindex/internal/ingest"
	"github.com/roach88/stateindex/internal/metrics"
	"github.com/roach88/stateindex/internal/store"
	"github.com/roach88/stateindex/internal/updates"
)

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.ConnString(),
		PoolSize: cfg.Database.PoolSize,
	}, logger.Named("store"))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newReconciler dials the update source and builds the reconciler over st.
// The returned source must be closed by the caller.
func newReconciler(cfg *config.Config, st *store.Store, m *metrics.Metrics, logger *zap.Logger) (*ingest.Reconciler, *updates.GRPCSource, error) {
	if cfg.Updates.URL == "" {
		return nil, nil, WrapExitError(ExitCommandError, "failed to configure ingestion",
			&config.Error{Key: "updates.url", Reason: "is required"})
	}

	src, err := updates.Dial(cfg.Updates.URL,
		updates.WithTimeout(cfg.Updates.RequestTimeout),
		updates.WithLogger(logger.Named("updates")))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to configure ingestion", err)
	}

	rec := ingest.New(src, st, ingest.Config{
		MinHeight:        cfg.Updates.StartingHeight,
		BlocksPerRequest: cfg.Updates.BlocksPerRequest,
		Backoff:          cfg.Updates.Backoff,
	}, ingest.WithLogger(logger.Named("ingest")), ingest.WithMetrics(m.Ingest))
	return rec, src, nil
}

// serveMetrics exposes the registry of m at /metrics until ctx ends.
func serveMetrics(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return api.ListenAndServe(ctx, cfg.Server.MetricsAddr(), mux, cfg.Server.ShutdownTimeout, logger.Named("metrics"))
}
