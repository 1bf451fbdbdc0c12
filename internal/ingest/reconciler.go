package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/metrics"
	"github.com/roach88/stateindex/internal/store"
	"github.com/roach88/stateindex/internal/updates"
)

// Defaults for Config fields left at zero.
const (
	DefaultMinHeight        = 1
	DefaultBlocksPerRequest = 100
	DefaultBackoff          = 5 * time.Second
)

// ErrAlreadyRunning is returned by Run when another Run is in progress on
// the same Reconciler.
var ErrAlreadyRunning = errors.New("ingest: reconciler already running")

// Sink is the store side of the reconciler.
type Sink interface {
	LastHandledHeight(ctx context.Context) (int64, error)
	ApplyBatch(ctx context.Context, b store.Batch) error
}

// Config tunes the loop.
type Config struct {
	// MinHeight is the first height ever requested.
	MinHeight int64

	// BlocksPerRequest is the width of each fetched range.
	BlocksPerRequest int64

	// Backoff is the pause after a range that yielded no events.
	Backoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinHeight <= 0 {
		c.MinHeight = DefaultMinHeight
	}
	if c.BlocksPerRequest <= 0 {
		c.BlocksPerRequest = DefaultBlocksPerRequest
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// Reconciler pulls update ranges from a Source and applies them to a Sink.
type Reconciler struct {
	source  updates.Source
	sink    Sink
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Ingest
	running atomic.Bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithMetrics publishes loop progress to m.
func WithMetrics(m *metrics.Ingest) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New creates a Reconciler. Zero Config fields take their defaults.
func New(source updates.Source, sink Sink, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		source: source,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New().Ingest
	}
	return r
}

// Config returns the effective configuration.
func (r *Reconciler) Config() Config {
	return r.cfg
}

// StepResult describes one iteration of the loop.
type StepResult struct {
	From int64
	To   int64

	Inserts    int
	Tombstones int

	// Watermark is the last handled height after the step.
	Watermark int64

	// Applied is false when the range yielded no events or the fetch
	// failed. The caller should back off.
	Applied bool

	// FetchErr is the swallowed upstream error, if any.
	FetchErr error
}

// Events returns the number of events applied.
func (s StepResult) Events() int {
	return s.Inserts + s.Tombstones
}

// Step runs one iteration: fetch the next range and apply it.
//
// Upstream failures are logged and reported through StepResult.FetchErr.
// The returned error is non-nil only for store failures, which are fatal,
// or for ctx ending before the watermark could be read.
// Once the fetch has returned, the apply runs to completion even if ctx is
// cancelled.
func (r *Reconciler) Step(ctx context.Context) (StepResult, error) {
	last, err := r.sink.LastHandledHeight(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{}, ctx.Err()
		}
		return StepResult{}, fmt.Errorf("read last handled height: %w", err)
	}

	from := max(r.cfg.MinHeight, last+1)
	to := from + r.cfg.BlocksPerRequest - 1
	res := StepResult{From: from, To: to, Watermark: last}

	events, err := r.source.FetchRange(ctx, from, to)
	if err != nil {
		res.FetchErr = err
		if ctx.Err() != nil {
			return res, nil
		}
		if updates.IsRollback(err) {
			r.metrics.IncFetchFailures(metrics.FailureRollback)
			r.logger.Error("upstream rolled back, watermark is stuck",
				zap.Int64("watermark", last),
				zap.Int64("from", from),
				zap.Int64("to", to),
				zap.Error(err))
			return res, nil
		}
		r.metrics.IncFetchFailures(metrics.FailureUpstream)
		r.logger.Warn("update fetch failed",
			zap.Int64("from", from),
			zap.Int64("to", to),
			zap.Error(err))
		return res, nil
	}

	if len(events) == 0 {
		r.logger.Debug("no updates in range",
			zap.Int64("from", from),
			zap.Int64("to", to))
		return res, nil
	}

	batch := buildBatch(events, last)
	if err := r.sink.ApplyBatch(context.WithoutCancel(ctx), batch); err != nil {
		r.logger.Error("apply batch failed",
			zap.Int64("from", from),
			zap.Int64("to", to),
			zap.Int("inserts", len(batch.Inserts)),
			zap.Int("tombstones", len(batch.Tombstones)),
			zap.Error(err))
		return res, fmt.Errorf("apply range [%d, %d]: %w", from, to, err)
	}

	res.Inserts = len(batch.Inserts)
	res.Tombstones = len(batch.Tombstones)
	res.Watermark = batch.Height
	res.Applied = true

	r.metrics.RecordBatch(res.Inserts, res.Tombstones)
	r.metrics.SetLastHandledHeight(res.Watermark)
	r.logger.Info("applied update range",
		zap.Int64("from", from),
		zap.Int64("to", to),
		zap.Int("inserts", res.Inserts),
		zap.Int("tombstones", res.Tombstones),
		zap.Int64("last_handled_height", res.Watermark))

	return res, nil
}

// Run loops until ctx is cancelled, returning nil, or until a store failure,
// returning that failure.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	r.logger.Info("reconciler starting",
		zap.Int64("min_height", r.cfg.MinHeight),
		zap.Int64("blocks_per_request", r.cfg.BlocksPerRequest),
		zap.Duration("backoff", r.cfg.Backoff))

	if last, err := r.sink.LastHandledHeight(ctx); err == nil {
		r.metrics.SetLastHandledHeight(last)
	}

	for {
		if ctx.Err() != nil {
			r.logger.Info("reconciler stopping: context cancelled")
			return nil
		}

		res, err := r.Step(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				r.logger.Info("reconciler stopping: context cancelled")
				return nil
			}
			return err
		}
		if res.Applied {
			continue
		}

		if !r.wait(ctx) {
			r.logger.Info("reconciler stopping: context cancelled")
			return nil
		}
	}
}

// wait sleeps for the backoff. It returns false if ctx ended first.
func (r *Reconciler) wait(ctx context.Context) bool {
	timer := time.NewTimer(r.cfg.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// buildBatch splits events into inserts and tombstones and computes the
// watermark: the highest event height, never below last.
func buildBatch(events []updates.Event, last int64) store.Batch {
	b := store.Batch{Height: last}
	for _, ev := range events {
		if ev.IsRemoval() {
			b.Tombstones = append(b.Tombstones, store.Tombstone{
				Address:        ev.Address,
				Key:            ev.Key,
				Height:         ev.Height,
				BlockTimestamp: ev.BlockTimestamp,
			})
		} else {
			b.Inserts = append(b.Inserts, ev.Entry())
		}
		b.Height = max(b.Height, ev.Height)
	}
	return b
}

var _ Sink = (*store.Store)(nil)

