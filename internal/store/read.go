package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/querysql"
)

// pairChunkSize bounds the number of pairs per lookup statement.
const pairChunkSize = 500

// entryColumns are read for every returned row. Fragments are derived
// again from the key and value rather than read back.
var entryColumns = []string{
	"uid", "address", "key", "height", "block_timestamp",
	"value_binary", "value_bool", "value_integer", "value_string",
}

// hasValue excludes tombstones.
const hasValue = "(value_binary IS NOT NULL OR value_bool IS NOT NULL OR " +
	"value_integer IS NOT NULL OR value_string IS NOT NULL)"

// Query is a compiled search.
type Query struct {
	// Where and Order are compiled by querysql. An empty Where matches
	// everything, an empty Order leaves the ORDER BY clause out.
	Where string
	Order string

	Limit  uint64
	Offset uint64

	// AsOf scopes the search to the versions current at that point instead
	// of current rows.
	AsOf *AsOf
}

// SQL renders the statement over current rows.
//
// The statement is assembled as text: compiled predicates carry their
// literals inline, so the whole string must pass to the driver untouched.
// Historical queries are rendered by Store.Search, which binds the point
// in history.
func (q Query) SQL() string {
	return q.render("superseded_by = " + strconv.FormatInt(MaxUID, 10))
}

func (q Query) render(scope string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(entryColumns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(TableEntries)
	b.WriteString(" WHERE ")
	b.WriteString(scope)
	b.WriteString(" AND ")
	b.WriteString(hasValue)

	where := q.Where
	if where == "" {
		where = querysql.AlwaysTrue
	}
	b.WriteString(" AND (")
	b.WriteString(where)
	b.WriteString(")")

	if q.Order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.Order)
	}
	b.WriteString(" LIMIT ")
	b.WriteString(strconv.FormatUint(q.Limit, 10))
	b.WriteString(" OFFSET ")
	b.WriteString(strconv.FormatUint(q.Offset, 10))
	return b.String()
}

// Search executes a compiled query. Tombstones are never returned.
//
// A historical query ranks the history in a subquery. Its parameters are
// the only bound arguments of the statement.
func (s *Store) Search(ctx context.Context, q Query) ([]entry.Entry, error) {
	stmt, args, err := s.searchStatement(q)
	if err != nil {
		return nil, &Error{Op: "search", Err: err}
	}
	s.logger.Debug("search", zap.String("sql", stmt))

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &Error{Op: "search", Err: err}
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, &Error{Op: "search", Err: err}
	}
	return entries, nil
}

func (s *Store) searchStatement(q Query) (string, []any, error) {
	if q.AsOf == nil {
		return q.SQL(), nil, nil
	}
	if err := q.AsOf.validate(); err != nil {
		return "", nil, err
	}
	sub, args, err := s.builder.
		Select("uid").
		FromSelect(rankedVersions(*q.AsOf, nil), "ranked").
		Where(sq.Eq{"rn": 1}).
		ToSql()
	if err != nil {
		return "", nil, err
	}
	return q.render(querysql.UIDColumn + " IN (" + sub + ")"), args, nil
}

// Current returns the current version of each requested pair, tombstones
// included. Pairs that were never written are absent from the result.
func (s *Store) Current(ctx context.Context, pairs []entry.Pair) (map[entry.Pair]entry.Entry, error) {
	result := make(map[entry.Pair]entry.Entry, len(pairs))
	for _, chunk := range chunkPairs(pairs) {
		query, args, err := s.builder.
			Select(entryColumns...).
			From(TableEntries).
			Where(sq.Eq{"superseded_by": MaxUID}).
			Where(pairPredicate(chunk)).
			ToSql()
		if err != nil {
			return nil, &Error{Op: "current", Err: err}
		}
		if err := s.collect(ctx, query, args, result); err != nil {
			return nil, &Error{Op: "current", Err: err}
		}
	}
	return result, nil
}

// EntriesByUID loads versions by row identifier, tombstones included.
func (s *Store) EntriesByUID(ctx context.Context, ids []int64) (map[entry.Pair]entry.Entry, error) {
	result := make(map[entry.Pair]entry.Entry, len(ids))
	for start := 0; start < len(ids); start += pairChunkSize {
		end := min(start+pairChunkSize, len(ids))
		query, args, err := s.builder.
			Select(entryColumns...).
			From(TableEntries).
			Where(sq.Eq{"uid": ids[start:end]}).
			ToSql()
		if err != nil {
			return nil, &Error{Op: "entries by uid", Err: err}
		}
		if err := s.collect(ctx, query, args, result); err != nil {
			return nil, &Error{Op: "entries by uid", Err: err}
		}
	}
	return result, nil
}

func (s *Store) collect(ctx context.Context, query string, args []any, into map[entry.Pair]entry.Entry) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return err
	}
	for _, e := range entries {
		into[e.Pair()] = e
	}
	return nil
}

// AsOf selects a point in chain history. Exactly one field is set.
type AsOf struct {
	Height         *int64
	BlockTimestamp *time.Time
}

// ResolveAsOf returns, for each pair, the row identifier of the latest version
// at or before the given point. An empty pairs list resolves every pair.
// Pairs with no version at that point are skipped. Identifiers are returned
// in ascending order and may refer to tombstones.
func (s *Store) ResolveAsOf(ctx context.Context, at AsOf, pairs []entry.Pair) ([]int64, error) {
	if err := at.validate(); err != nil {
		return nil, &Error{Op: "resolve as of", Err: err}
	}

	var ids []int64
	chunks := chunkPairs(pairs)
	if len(pairs) == 0 {
		chunks = [][]entry.Pair{nil}
	}

	for _, chunk := range chunks {
		query, args, err := s.resolveQuery(at, chunk).ToSql()
		if err != nil {
			return nil, &Error{Op: "resolve as of", Err: err}
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, &Error{Op: "resolve as of", Err: err}
		}
		for rows.Next() {
			var uid int64
			if err := rows.Scan(&uid); err != nil {
				rows.Close()
				return nil, &Error{Op: "resolve as of", Err: err}
			}
			ids = append(ids, uid)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, &Error{Op: "resolve as of", Err: err}
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// HasVersionsAsOf reports whether any version exists at or before the given
// point.
func (s *Store) HasVersionsAsOf(ctx context.Context, at AsOf) (bool, error) {
	if err := at.validate(); err != nil {
		return false, &Error{Op: "has versions as of", Err: err}
	}
	query, args, err := s.builder.
		Select("1").
		From(TableHistory).
		Where(at.bound()).
		Limit(1).
		ToSql()
	if err != nil {
		return false, &Error{Op: "has versions as of", Err: err}
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "has versions as of", Err: err}
	}
	return true, nil
}

func (at AsOf) validate() error {
	if (at.Height == nil) == (at.BlockTimestamp == nil) {
		return fmt.Errorf("exactly one of height or block timestamp must be set")
	}
	return nil
}

func (at AsOf) bound() sq.Sqlizer {
	if at.Height != nil {
		return sq.LtOrEq{"height": *at.Height}
	}
	return sq.LtOrEq{"block_timestamp": timestampArg(*at.BlockTimestamp)}
}

// rankedVersions numbers the history of each pair newest first. A height
// bound ranks by height, a timestamp bound by block timestamp.
func rankedVersions(at AsOf, pairs []entry.Pair) sq.SelectBuilder {
	order := "height DESC, uid DESC"
	if at.Height == nil {
		order = "block_timestamp DESC, uid DESC"
	}
	inner := sq.
		Select("uid", "ROW_NUMBER() OVER (PARTITION BY address, key ORDER BY "+order+") AS rn").
		From(TableHistory).
		Where(at.bound())
	if len(pairs) > 0 {
		inner = inner.Where(pairPredicate(pairs))
	}
	return inner
}

// resolveQuery keeps the top ranked row of each pair.
func (s *Store) resolveQuery(at AsOf, pairs []entry.Pair) sq.SelectBuilder {
	return s.builder.
		Select("uid").
		FromSelect(rankedVersions(at, pairs), "ranked").
		Where(sq.Eq{"rn": 1}).
		OrderBy("uid")
}

func pairPredicate(pairs []entry.Pair) sq.Or {
	or := make(sq.Or, len(pairs))
	for i, p := range pairs {
		or[i] = sq.Eq{"address": p.Address, "key": p.Key}
	}
	return or
}

func chunkPairs(pairs []entry.Pair) [][]entry.Pair {
	var chunks [][]entry.Pair
	for start := 0; start < len(pairs); start += pairChunkSize {
		end := min(start+pairChunkSize, len(pairs))
		chunks = append(chunks, pairs[start:end])
	}
	return chunks
}

func scanEntries(rows *sql.Rows) ([]entry.Entry, error) {
	var entries []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (entry.Entry, error) {
	var (
		uid     int64
		address string
		key     string
		height  int64
		ts      time.Time
		binary  []byte
		boolean sql.NullBool
		integer sql.NullInt64
		str     sql.NullString
	)
	if err := rows.Scan(&uid, &address, &key, &height, &ts, &binary, &boolean, &integer, &str); err != nil {
		return entry.Entry{}, fmt.Errorf("scan entry: %w", err)
	}

	var v entry.Value
	switch {
	case binary != nil:
		v = entry.Binary(binary)
	case boolean.Valid:
		v = entry.Bool(boolean.Bool)
	case integer.Valid:
		v = entry.Integer(integer.Int64)
	case str.Valid:
		v = entry.String(str.String)
	}

	e := entry.New(address, key, height, ts.UTC(), v)
	e.UID = uid
	return e, nil
}
