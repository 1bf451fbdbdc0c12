package harness

import (
	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/ingest"
)

// Trace event types.
const (
	EventIngest      = "ingest"
	EventFetchFailed = "fetch_failed"
	EventSearch      = "search"
	EventGet         = "get"
)

// TraceEvent is one recorded step. Ingest events fill the range fields,
// query events fill the query fields.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	From       int64 `json:"from,omitempty"`
	To         int64 `json:"to,omitempty"`
	Inserts    int   `json:"inserts,omitempty"`
	Tombstones int   `json:"tombstones,omitempty"`
	Watermark  int64 `json:"watermark,omitempty"`

	Query       string        `json:"query,omitempty"`
	Where       string        `json:"where,omitempty"`
	Order       string        `json:"order,omitempty"`
	Rows        []*Row        `json:"rows,omitempty"`
	HasNextPage bool          `json:"has_next_page,omitempty"`
	Error       *ErrorSummary `json:"error,omitempty"`
}

// Row is one returned entry. A nil *Row in a get trace is a pair without
// a current (or resolved) value.
type Row struct {
	Address string      `json:"address"`
	Key     string      `json:"key"`
	Height  int64       `json:"height"`
	Value   entry.Value `json:"value"`
}

// ErrorSummary is the recorded outcome of a failed query.
type ErrorSummary struct {
	// Kind is "validation", "not_found" or "storage".
	Kind      string `json:"kind"`
	Code      int    `json:"code,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// Error kinds.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindStorage    = "storage"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Watermark is the last handled height after ingestion.
	Watermark int64 `json:"watermark"`

	// queries maps query names onto trace indexes.
	queries map[string]int
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		queries: make(map[string]int),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddIngestTrace records one reconciler step.
func (r *Result) AddIngestTrace(step ingest.StepResult) {
	ev := TraceEvent{
		Type:      EventIngest,
		From:      step.From,
		To:        step.To,
		Watermark: step.Watermark,
	}
	if step.FetchErr != nil {
		ev.Type = EventFetchFailed
	} else {
		ev.Inserts = step.Inserts
		ev.Tombstones = step.Tombstones
	}
	r.append(ev)
}

// AddQueryTrace records one query and indexes it by name.
func (r *Result) AddQueryTrace(ev TraceEvent) {
	r.append(ev)
	if r.queries == nil {
		r.queries = make(map[string]int)
	}
	r.queries[ev.Query] = len(r.Trace) - 1
}

// QueryTrace returns the recorded event of the named query.
func (r *Result) QueryTrace(name string) (*TraceEvent, bool) {
	i, ok := r.queries[name]
	if !ok {
		return nil, false
	}
	return &r.Trace[i], true
}

func (r *Result) append(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}

// Keys lists the keys of the returned rows, skipping nil rows.
func (ev *TraceEvent) Keys() []string {
	keys := make([]string, 0, len(ev.Rows))
	for _, row := range ev.Rows {
		if row != nil {
			keys = append(keys, row.Key)
		}
	}
	return keys
}
