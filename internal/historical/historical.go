// Package historical answers point-in-time lookups.
//
// A request may name a height or a block timestamp (never both). The
// Resolver maps that point and a set of (address, key) pairs onto the row
// identifiers of the versions that were current at that point. Without
// point-in-time parameters nothing is resolved and callers query current
// rows instead.
package historical

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/store"
)

// Query parameter names.
const (
	ParamHeight         = "height"
	ParamBlockTimestamp = "block_timestamp"
)

// ErrNotFound reports that point-in-time parameters were given but no pair
// had a version at that point.
var ErrNotFound = errors.New("historical: no entries at the requested point")

// Params selects a point in chain history. The zero value requests the
// current state.
type Params struct {
	Height         *int64
	BlockTimestamp *time.Time
}

// Requested reports whether a point in history was selected.
func (p Params) Requested() bool {
	return p.Height != nil || p.BlockTimestamp != nil
}

// Validate rejects conflicting or out-of-range parameters.
func (p Params) Validate() error {
	if p.Height != nil && p.BlockTimestamp != nil {
		return queryir.NewInvalidParameter(ParamHeight+", "+ParamBlockTimestamp, "only one historical parameter must be used")
	}
	if p.Height != nil && *p.Height < 0 {
		return queryir.NewInvalidParameter(ParamHeight, "Height must be greater than or equal to 0, found %d.", *p.Height)
	}
	return nil
}

// ParseParams reads height and block_timestamp from URL query values.
// block_timestamp is an RFC 3339 datetime.
func ParseParams(values url.Values) (Params, error) {
	var p Params

	if raw := values.Get(ParamHeight); raw != "" {
		h, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Params{}, queryir.NewInvalidParameter(ParamHeight, "Invalid height: found %q, expected integer.", raw)
		}
		p.Height = &h
	}

	if raw := values.Get(ParamBlockTimestamp); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Params{}, queryir.NewInvalidParameter(ParamBlockTimestamp, "Invalid block_timestamp: found %q, expected RFC 3339 datetime.", raw)
		}
		ts = ts.UTC()
		p.BlockTimestamp = &ts
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Lookup resolves versions from the historical index.
type Lookup interface {
	ResolveAsOf(ctx context.Context, at store.AsOf, pairs []entry.Pair) ([]int64, error)
	HasVersionsAsOf(ctx context.Context, at store.AsOf) (bool, error)
}

// Resolution is the outcome of a point-in-time lookup.
type Resolution struct {
	// Requested is false when no point in history was selected. RowIDs is
	// then empty and callers query current rows.
	Requested bool

	// RowIDs are sorted ascending and unique.
	RowIDs []int64
}

// NotFound reports a requested lookup that resolved nothing.
func (r Resolution) NotFound() bool {
	return r.Requested && len(r.RowIDs) == 0
}

// Resolver maps point-in-time parameters onto row identifiers.
type Resolver struct {
	lookup Lookup
	logger *zap.Logger
}

// NewResolver creates a Resolver over the given historical index.
func NewResolver(lookup Lookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve returns, for each pair, the identifier of the version with the
// greatest height (or timestamp) not after the requested point, ties broken
// by the greatest identifier. An empty pairs list resolves every pair.
//
// Conflicting parameters fail with a *queryir.ValidationError before any
// lookup runs.
func (r *Resolver) Resolve(ctx context.Context, p Params, pairs []entry.Pair) (Resolution, error) {
	if err := p.Validate(); err != nil {
		return Resolution{}, err
	}
	if !p.Requested() {
		return Resolution{}, nil
	}

	ids, err := r.lookup.ResolveAsOf(ctx, store.AsOf{Height: p.Height, BlockTimestamp: p.BlockTimestamp}, uniquePairs(pairs))
	if err != nil {
		return Resolution{}, err
	}

	slices.Sort(ids)
	ids = slices.Compact(ids)

	r.logger.Debug("historical lookup resolved",
		zap.Int("pairs", len(pairs)),
		zap.Int("row_ids", len(ids)))

	return Resolution{Requested: true, RowIDs: ids}, nil
}

// Point converts p into a store scope for searches over every pair. It
// returns nil when p requests the current state, and ErrNotFound when no
// version exists at or before the requested point.
//
// Conflicting parameters fail with a *queryir.ValidationError before any
// lookup runs.
func (r *Resolver) Point(ctx context.Context, p Params) (*store.AsOf, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !p.Requested() {
		return nil, nil
	}

	at := &store.AsOf{Height: p.Height, BlockTimestamp: p.BlockTimestamp}
	ok, err := r.lookup.HasVersionsAsOf(ctx, *at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return at, nil
}

func uniquePairs(pairs []entry.Pair) []entry.Pair {
	if len(pairs) < 2 {
		return pairs
	}
	seen := make(map[entry.Pair]struct{}, len(pairs))
	out := make([]entry.Pair, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
