package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/querysql"
)

// MaxUID marks the current version of a pair in superseded_by.
const MaxUID int64 = 9223372036854775806

// Table names of the physical schema.
const (
	TableEntries   = "data_entries"
	TableHistory   = "data_entries_history"
	TableWatermark = "last_handled_height"
)

// Config selects and sizes the database connection.
type Config struct {
	// Driver is "postgres" or "sqlite3".
	Driver string
	DSN    string

	// PoolSize caps open connections. Ignored for sqlite3, which always
	// uses a single connection.
	PoolSize int
}

// Store persists data entry versions and answers compiled queries.
//
// Postgres is the production backend. SQLite serves embedded use and tests
// and runs on a single connection, since it allows only one writer.
type Store struct {
	db      *sql.DB
	dialect querysql.Dialect
	builder sq.StatementBuilderType
	logger  *zap.Logger
}

// Open connects to the database and applies pending migrations.
//
// This function is idempotent - safe to call multiple times against the same
// database.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	s, err := Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Connect opens the database without touching the schema.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialect, err := querysql.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	driverName := cfg.Driver
	var placeholder sq.PlaceholderFormat = sq.Dollar
	if dialect == querysql.SQLite {
		driverName = sqliteDriverName
		placeholder = sq.Question
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	// SQLite only supports one writer at a time, so limit connections
	if dialect == querysql.SQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
		db.SetMaxIdleConns(cfg.PoolSize)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Op: "connect", Err: err}
	}

	logger.Debug("database connected", zap.String("driver", cfg.Driver))

	return &Store{
		db:      db,
		dialect: dialect,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		logger:  logger,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect queries must be compiled for.
func (s *Store) Dialect() querysql.Dialect {
	return s.dialect
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

// LastHandledHeight returns the ingestion watermark, or 0 when nothing has
// been ingested yet.
func (s *Store) LastHandledHeight(ctx context.Context) (int64, error) {
	query, args, err := s.builder.
		Select("height").
		From(TableWatermark).
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return 0, &Error{Op: "last handled height", Err: err}
	}

	var height int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&height)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &Error{Op: "last handled height", Err: err}
	}
	return height, nil
}

// SetLastHandledHeight overwrites the ingestion watermark.
func (s *Store) SetLastHandledHeight(ctx context.Context, height int64) error {
	if err := s.setWatermark(ctx, s.db, height); err != nil {
		return &Error{Op: "set last handled height", Err: err}
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) setWatermark(ctx context.Context, ex execer, height int64) error {
	query, args, err := s.builder.
		Insert(TableWatermark).
		Columns("id", "height").
		Values(1, height).
		Suffix("ON CONFLICT (id) DO UPDATE SET height = excluded.height").
		ToSql()
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, query, args...)
	return err
}
