package querysql

import "fmt"

// Dialect selects the SQL flavour of the storage backend.
//
// Both dialects share the escaping scheme and the physical schema. They
// differ in the tuple membership syntax and in how the store binds
// parameters.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// Valid reports whether d is a supported dialect.
func (d Dialect) Valid() bool {
	return d == Postgres || d == SQLite
}

// ParseDialect converts a driver name into a Dialect.
func ParseDialect(name string) (Dialect, error) {
	d := Dialect(name)
	if !d.Valid() {
		return "", fmt.Errorf("unsupported dialect %q (want %q or %q)", name, Postgres, SQLite)
	}
	return d, nil
}
