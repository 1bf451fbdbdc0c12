package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/adlio/schema"
	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/querysql"
)

//go:embed migrations
var migrationsFS embed.FS

// migrationsTable tracks applied migrations.
const migrationsTable = "stateindex_migrations"

// Migrations returns the ordered schema migrations for a dialect.
func Migrations(d querysql.Dialect) ([]*schema.Migration, error) {
	migrations, err := schema.FSMigrations(migrationsFS, fmt.Sprintf("migrations/%s/*.sql", d))
	if err != nil {
		return nil, err
	}
	if len(migrations) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %q", d)
	}
	schema.SortMigrations(migrations)
	return migrations, nil
}

// Migrate applies pending migrations. Already applied migrations are
// skipped, so Migrate is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	migrations, err := Migrations(s.dialect)
	if err != nil {
		return &Error{Op: "migrate", Err: err}
	}

	var dialect schema.Dialect = schema.Postgres
	if s.dialect == querysql.SQLite {
		dialect = schema.SQLite
	}

	m := schema.NewMigrator(
		schema.WithDialect(dialect),
		schema.WithTableName(migrationsTable),
		schema.WithContext(ctx),
		schema.WithLogger(migrationLogger{s.logger.Sugar()}),
	)
	if err := m.Apply(s.db, migrations); err != nil {
		return &Error{Op: "migrate", Err: err}
	}
	return nil
}

// migrationLogger adapts zap to the migrator's Print-style logger.
type migrationLogger struct {
	log *zap.SugaredLogger
}

func (l migrationLogger) Print(args ...any) {
	l.log.Debug(args...)
}
