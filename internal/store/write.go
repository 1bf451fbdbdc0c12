package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/fragment"
)

// Tombstone records the removal of a pair at a height.
type Tombstone struct {
	Address        string
	Key            string
	Height         int64
	BlockTimestamp time.Time
}

// Batch is one unit of ingestion. It is applied atomically together with
// the new watermark.
type Batch struct {
	Inserts    []entry.Entry
	Tombstones []Tombstone

	// Height becomes the last handled height once the batch commits.
	Height int64
}

// ApplyBatch writes every version in the batch and advances the watermark,
// all in one transaction. Inserts are applied before tombstones, each in
// slice order.
//
// Each version is appended as a new row. The previously current row for the
// pair is marked superseded by the new one, unless it sits at a higher height,
// in which case the new row is stored already superseded. Either way the
// version is recorded in the history table for as-of lookups.
func (s *Store) ApplyBatch(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "apply batch: begin tx", Err: err}
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range b.Inserts {
		if e.IsTombstone() {
			return &Error{Op: "apply batch", Err: fmt.Errorf("insert for %s/%s has no value", e.Address, e.Key)}
		}
		if err := s.writeVersion(ctx, tx, e); err != nil {
			return &Error{Op: "apply batch: insert", Err: err}
		}
	}

	for _, t := range b.Tombstones {
		e := entry.New(t.Address, t.Key, t.Height, t.BlockTimestamp, nil)
		if err := s.writeVersion(ctx, tx, e); err != nil {
			return &Error{Op: "apply batch: tombstone", Err: err}
		}
	}

	if err := s.setWatermark(ctx, tx, b.Height); err != nil {
		return &Error{Op: "apply batch: watermark", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "apply batch: commit", Err: err}
	}
	return nil
}

// writeVersion appends one version of a pair and maintains supersession.
func (s *Store) writeVersion(ctx context.Context, tx *sql.Tx, e entry.Entry) error {
	curUID, curHeight, found, err := s.currentVersion(ctx, tx, e.Address, e.Key)
	if err != nil {
		return err
	}

	supersededBy := MaxUID
	if found && curHeight > e.Height {
		supersededBy = curUID
	}

	columns, values := rowValues(e)
	columns = append(columns, "superseded_by")
	values = append(values, supersededBy)

	query, args, err := s.builder.
		Insert(TableEntries).
		Columns(columns...).
		Values(values...).
		Suffix("RETURNING uid").
		ToSql()
	if err != nil {
		return err
	}

	var uid int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&uid); err != nil {
		return fmt.Errorf("insert %s/%s: %w", e.Address, e.Key, err)
	}

	if found && supersededBy == MaxUID {
		query, args, err = s.builder.
			Update(TableEntries).
			Set("superseded_by", uid).
			Where(sq.Eq{"uid": curUID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("supersede %d: %w", curUID, err)
		}
	}

	query, args, err = s.builder.
		Insert(TableHistory).
		Columns("address", "key", "height", "block_timestamp", "uid").
		Values(e.Address, e.Key, e.Height, timestampArg(e.BlockTimestamp), uid).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("history %s/%s: %w", e.Address, e.Key, err)
	}
	return nil
}

func (s *Store) currentVersion(ctx context.Context, tx *sql.Tx, address, key string) (uid, height int64, found bool, err error) {
	query, args, err := s.builder.
		Select("uid", "height").
		From(TableEntries).
		Where(sq.Eq{"address": address, "key": key, "superseded_by": MaxUID}).
		OrderBy("uid DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return 0, 0, false, err
	}

	err = tx.QueryRowContext(ctx, query, args...).Scan(&uid, &height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("current version of %s/%s: %w", address, key, err)
	}
	return uid, height, true, nil
}

// rowValues maps an entry onto data_entries columns. Null columns are
// omitted.
func rowValues(e entry.Entry) ([]string, []any) {
	columns := []string{"address", "key", "height", "block_timestamp"}
	values := []any{e.Address, e.Key, e.Height, timestampArg(e.BlockTimestamp)}

	switch v := e.Value.(type) {
	case entry.Binary:
		b := []byte(v)
		if b == nil {
			b = []byte{}
		}
		columns, values = append(columns, entry.TypeBinary.Column()), append(values, b)
	case entry.Bool:
		columns, values = append(columns, entry.TypeBool.Column()), append(values, bool(v))
	case entry.Integer:
		columns, values = append(columns, entry.TypeInteger.Column()), append(values, int64(v))
	case entry.String:
		columns, values = append(columns, entry.TypeString.Column()), append(values, string(v))
	}

	columns, values = appendFragments(columns, values, "fragment", e.Fragments)
	columns, values = appendFragments(columns, values, "value_fragment", e.ValueFragments)
	return columns, values
}

func appendFragments(columns []string, values []any, prefix string, frags []fragment.Fragment) ([]string, []any) {
	for i, f := range frags {
		if i >= fragment.MaxFragments {
			break
		}
		columns = append(columns, fmt.Sprintf("%s_%d_%s", prefix, i, f.Kind))
		switch f.Kind {
		case fragment.KindInteger:
			values = append(values, f.Int)
		default:
			values = append(values, f.Text)
		}
	}
	return columns, values
}

// timestampArg normalizes block timestamps to UTC milliseconds, the
// precision of the update stream.
func timestampArg(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
