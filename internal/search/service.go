// Package search answers data entry queries against the store.
//
// A Service validates a decoded request, resolves point-in-time parameters,
// compiles the filter and sort for the store's dialect and pages through the
// result. It is the single entry point shared by the HTTP API and the CLI.
package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/historical"
	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/querysql"
	"github.com/roach88/stateindex/internal/store"
)

// MaxPairs bounds the pairs of a single multi-get.
const MaxPairs = 1000

// ParamPairs is the parameter name of the multi-get pair list.
const ParamPairs = "address_key_pairs"

// ErrNotFound is returned when point-in-time parameters resolve nothing.
var ErrNotFound = historical.ErrNotFound

// Store is the read side of the store.
type Store interface {
	historical.Lookup
	Search(ctx context.Context, q store.Query) ([]entry.Entry, error)
	Current(ctx context.Context, pairs []entry.Pair) (map[entry.Pair]entry.Entry, error)
	EntriesByUID(ctx context.Context, ids []int64) (map[entry.Pair]entry.Entry, error)
}

// Result is one page of search results.
type Result struct {
	Entries     []entry.Entry
	HasNextPage bool
}

// Service runs searches and multi-gets.
//
// Thread-safety: a Service holds no mutable state and is safe for
// concurrent use.
type Service struct {
	store    Store
	compiler *querysql.Compiler
	resolver *historical.Resolver
	logger   *zap.Logger
}

// NewService creates a Service compiling SQL for dialect.
func NewService(st Store, dialect querysql.Dialect, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		compiler: querysql.NewCompiler(dialect),
		resolver: historical.NewResolver(st, logger),
		logger:   logger,
	}
}

// Prepare validates req and compiles it into a store query. The sort is
// completed with an ascending base sort when it lacks one, so pages are
// stable. The query asks for one row more than the limit.
func (s *Service) Prepare(req *queryir.SearchRequest) (store.Query, error) {
	if err := queryir.Validate(req); err != nil {
		return store.Query{}, err
	}

	where, err := s.compiler.CompileWhere(req.Filter)
	if err != nil {
		return store.Query{}, fmt.Errorf("compile filter: %w", err)
	}

	items := req.Sort
	if !req.HasBaseSort() {
		items = append(items[:len(items):len(items)], queryir.SortBase{Direction: queryir.Asc})
	}
	order, err := s.compiler.CompileSort(items)
	if err != nil {
		return store.Query{}, fmt.Errorf("compile sort: %w", err)
	}

	return store.Query{
		Where:  where,
		Order:  order,
		Limit:  req.Limit + 1,
		Offset: req.Offset,
	}, nil
}

// Search runs req over current rows, or over the versions resolved for p
// when p selects a point in history.
//
// Errors: *queryir.ValidationError for bad input, ErrNotFound when p
// resolves nothing, *store.Error for storage faults.
func (s *Service) Search(ctx context.Context, req *queryir.SearchRequest, p historical.Params) (*Result, error) {
	q, err := s.Prepare(req)
	if err != nil {
		return nil, err
	}

	at, err := s.resolver.Point(ctx, p)
	if err != nil {
		return nil, err
	}
	q.AsOf = at

	rows, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &Result{Entries: rows}
	if uint64(len(rows)) > req.Limit {
		result.Entries = rows[:req.Limit]
		result.HasNextPage = true
	}

	s.logger.Debug("search served",
		zap.Int("entries", len(result.Entries)),
		zap.Bool("has_next_page", result.HasNextPage),
		zap.Bool("historical", q.AsOf != nil))

	return result, nil
}

// Get returns one entry per pair, in request order. Pairs with no value
// (never written, or removed) yield nil.
//
// Errors: *queryir.ValidationError for too many pairs or bad parameters,
// ErrNotFound when p resolves nothing, *store.Error for storage faults.
func (s *Service) Get(ctx context.Context, pairs []entry.Pair, p historical.Params) ([]*entry.Entry, error) {
	if len(pairs) > MaxPairs {
		return nil, queryir.NewInvalidParameter(ParamPairs,
			"Too many address-key pairs, expected at most %d, found %d.", MaxPairs, len(pairs))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return []*entry.Entry{}, nil
	}

	res, err := s.resolver.Resolve(ctx, p, pairs)
	if err != nil {
		return nil, err
	}
	if res.NotFound() {
		return nil, ErrNotFound
	}

	var found map[entry.Pair]entry.Entry
	if res.Requested {
		found, err = s.store.EntriesByUID(ctx, res.RowIDs)
	} else {
		found, err = s.store.Current(ctx, pairs)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*entry.Entry, len(pairs))
	for i, pair := range pairs {
		e, ok := found[pair]
		if !ok || e.IsTombstone() {
			continue
		}
		out[i] = &e
	}
	return out, nil
}

// IsNotFound reports whether err means the requested point in history has
// no entries.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
