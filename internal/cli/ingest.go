package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stateindex/internal/metrics"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the ingestion reconciler",
		Long: `Fetch data entry updates from updates.url and apply them to the
database, range by range, starting after the last handled height.

Only one reconciler may write to a database at a time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootOpts.bindFlags(cmd.Flags(), map[string]string{
				"updates.url":             "updates-url",
				"updates.starting_height": "starting-height",
				"server.metrics_port":     "metrics-port",
			})
			return runIngest(cmd.Context(), rootOpts)
		},
	}

	cmd.Flags().String("updates-url", "", "gRPC address of the blockchain updates API")
	cmd.Flags().Int64("starting-height", 1, "first height to request")
	cmd.Flags().Int("metrics-port", 9090, "metrics port")

	return cmd
}

func runIngest(ctx context.Context, opts *RootOptions) error {
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
	rec, src, err := newReconciler(cfg, st, m, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Info("starting ingestion",
		zap.String("updates_url", cfg.Updates.URL),
		zap.String("metrics_addr", cfg.Server.MetricsAddr()),
		zap.String("driver", cfg.Database.Driver))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveMetrics(gctx, cfg, m, logger)
	})
	g.Go(func() error {
		return rec.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "ingestion stopped", err)
	}
	logger.Info("stopped")
	return nil
}
