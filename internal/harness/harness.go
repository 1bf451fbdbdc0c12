package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/historical"
	"github.com/roach88/stateindex/internal/ingest"
	"github.com/roach88/stateindex/internal/metrics"
	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/querysql"
	"github.com/roach88/stateindex/internal/search"
	"github.com/roach88/stateindex/internal/store"
	"github.com/roach88/stateindex/internal/testutil"
)

// maxSteps bounds the reconciler iterations of one scenario.
const maxSteps = 10000

var errUpstream = errors.New("scripted upstream failure")

// Harness runs one scenario against one store.
type Harness struct {
	store   *store.Store
	source  *testutil.ScriptedSource
	clock   *testutil.BlockClock
	service *search.Service
	logger  *zap.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger routes store, reconciler and service logs to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database:
//  1. script the events, and the upstream failures, into a ScriptedSource
//  2. step the reconciler until the highest event height is handled
//  3. run the queries and check their expect clauses
//  4. evaluate the assertions
//
// The returned error is non-nil only when the scenario could not be
// executed at all. Failed expectations are reported in the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(ctx, store.Config{Driver: string(querysql.SQLite), DSN: ":memory:"}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		source:  testutil.NewScriptedSource(),
		clock:   testutil.NewBlockClock(),
		service: search.NewService(st, st.Dialect(), o.logger),
		logger:  o.logger,
	}

	for i, spec := range scenario.Events {
		ev, err := spec.Event(h.clock)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		h.source.Add(ev)
	}
	for range scenario.UpstreamFailures {
		h.source.FailNext(errUpstream)
	}

	result := NewResult()
	if err := h.ingest(ctx, scenario, result); err != nil {
		return nil, fmt.Errorf("failed to ingest events: %w", err)
	}

	for _, q := range scenario.Queries {
		if err := h.executeQuery(ctx, q, result); err != nil {
			return nil, fmt.Errorf("query %q: %w", q.Name, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// ingest steps a reconciler until every scripted height is handled.
// A range without events stops the loop: the reconciler never advances
// past it, so events beyond it are reported as unreachable.
func (h *Harness) ingest(ctx context.Context, scenario *Scenario, result *Result) error {
	rec := ingest.New(h.source, h.store, ingest.Config{
		MinHeight:        scenario.StartHeight,
		BlocksPerRequest: scenario.BlocksPerRequest,
		Backoff:          time.Millisecond,
	}, ingest.WithLogger(h.logger), ingest.WithMetrics(metrics.New().Ingest))

	target := scenario.maxHeight()
	for range maxSteps {
		step, err := rec.Step(ctx)
		if err != nil {
			return err
		}
		result.Watermark = step.Watermark
		if step.FetchErr != nil {
			result.AddIngestTrace(step)
			continue
		}
		if !step.Applied {
			if step.Watermark < target {
				result.AddError(fmt.Sprintf("ingest stalled at [%d, %d]: events up to height %d were not reached", step.From, step.To, target))
			}
			return nil
		}
		result.AddIngestTrace(step)
		if step.Watermark >= target {
			return nil
		}
	}
	return fmt.Errorf("ingest did not settle after %d steps", maxSteps)
}

// executeQuery runs one query, records it and checks its expect clause.
func (h *Harness) executeQuery(ctx context.Context, q QueryStep, result *Result) error {
	params, perr := q.params()

	ev := TraceEvent{Query: q.Name}
	if q.IsSearch() {
		ev.Type = EventSearch
		if perr != nil {
			ev.Error = summarize(perr)
		} else if err := h.search(ctx, q, params, &ev); err != nil {
			return err
		}
	} else {
		ev.Type = EventGet
		if perr != nil {
			ev.Error = summarize(perr)
		} else if err := h.get(ctx, q, params, &ev); err != nil {
			return err
		}
	}
	result.AddQueryTrace(ev)

	if q.Expect != nil {
		for _, msg := range checkExpect(q, &ev) {
			result.AddError(msg)
		}
	}
	return nil
}

func (h *Harness) search(ctx context.Context, q QueryStep, params historical.Params, ev *TraceEvent) error {
	body, err := json.Marshal(q.Search)
	if err != nil {
		return fmt.Errorf("encode search body: %w", err)
	}
	req, err := queryir.ParseSearchRequest(body)
	if err != nil {
		ev.Error = summarize(err)
		return nil
	}

	if prepared, err := h.service.Prepare(req); err == nil {
		ev.Where = prepared.Where
		ev.Order = prepared.Order
	}

	res, err := h.service.Search(ctx, req, params)
	if err != nil {
		ev.Error = summarize(err)
		return nil
	}
	for _, e := range res.Entries {
		ev.Rows = append(ev.Rows, newRow(e))
	}
	ev.HasNextPage = res.HasNextPage
	return nil
}

func (h *Harness) get(ctx context.Context, q QueryStep, params historical.Params, ev *TraceEvent) error {
	found, err := h.service.Get(ctx, q.Entries, params)
	if err != nil {
		ev.Error = summarize(err)
		return nil
	}
	for _, e := range found {
		if e == nil {
			ev.Rows = append(ev.Rows, nil)
			continue
		}
		ev.Rows = append(ev.Rows, newRow(*e))
	}
	return nil
}

// params goes through historical.ParseParams so scenarios exercise the
// same parsing as the HTTP API.
func (q QueryStep) params() (historical.Params, error) {
	values := url.Values{}
	if q.Height != nil {
		values.Set(historical.ParamHeight, strconv.FormatInt(*q.Height, 10))
	}
	if q.BlockTimestamp != "" {
		values.Set(historical.ParamBlockTimestamp, q.BlockTimestamp)
	}
	return historical.ParseParams(values)
}

func newRow(e entry.Entry) *Row {
	return &Row{Address: e.Address, Key: e.Key, Height: e.Height, Value: e.Value}
}

func summarize(err error) *ErrorSummary {
	if ve, ok := queryir.AsValidationError(err); ok {
		return &ErrorSummary{Kind: KindValidation, Code: int(ve.Code), Parameter: ve.Parameter}
	}
	if errors.Is(err, queryir.ErrMalformedBody) {
		return &ErrorSummary{Kind: KindValidation}
	}
	if search.IsNotFound(err) {
		return &ErrorSummary{Kind: KindNotFound}
	}
	return &ErrorSummary{Kind: KindStorage}
}
