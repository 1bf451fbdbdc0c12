package cli

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stateindex/internal/api"
	"github.com/roach88/stateindex/internal/ingest"
	"github.com/roach88/stateindex/internal/metrics"
	"github.com/roach88/stateindex/internal/search"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Ingest bool // also run the reconciler
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the search API and the metrics endpoint.

With --ingest the reconciler runs in the same process. Only one
reconciler may write to a database at a time.

SIGINT or SIGTERM drains in-flight requests for server.shutdown_timeout.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.bindFlags(cmd.Flags(), map[string]string{
				"server.port":         "port",
				"server.metrics_port": "metrics-port",
			})
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Ingest, "ingest", false, "also run the reconciler")
	cmd.Flags().Int("port", 8080, "API port")
	cmd.Flags().Int("metrics-port", 9090, "metrics port")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	var rec *ingest.Reconciler
	if opts.Ingest {
		r, src, err := newReconciler(cfg, st, m, logger)
		if err != nil {
			return err
		}
		defer src.Close()
		rec = r
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.New(
		search.NewService(st, st.Dialect(), logger.Named("search")),
		st,
		api.Config{CORSOrigins: cfg.Server.CORSOrigins},
		api.WithLogger(logger.Named("api")),
		api.WithMetrics(m.API),
	)

	logger.Info("starting",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("metrics_addr", cfg.Server.MetricsAddr()),
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("ingest", rec != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.ListenAndServe(gctx, cfg.Server.Addr(), server.Handler(), cfg.Server.ShutdownTimeout, logger.Named("http"))
	})
	g.Go(func() error {
		return serveMetrics(gctx, cfg, m, logger)
	})
	if rec != nil {
		g.Go(func() error {
			return rec.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server stopped", err)
	}
	logger.Info("stopped")
	return nil
}
