package store

import (
	"crypto/md5"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/stateindex/internal/querysql"
)

// sqliteDriverName is go-sqlite3 with the SQL functions compiled queries
// rely on (unescape_literal, md5, decode) registered on every connection.
const sqliteDriverName = "stateindex_sqlite3"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := registerFunctions(conn); err != nil {
				return err
			}
			return applyPragmas(conn)
		},
	})
}

func registerFunctions(conn *sqlite3.SQLiteConn) error {
	funcs := []struct {
		name string
		impl any
	}{
		{"unescape_literal", querysql.Unescape},
		{"md5", sqliteMD5},
		{"decode", sqliteDecode},
	}
	for _, f := range funcs {
		if err := conn.RegisterFunc(f.name, f.impl, true); err != nil {
			return fmt.Errorf("register %s: %w", f.name, err)
		}
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(conn *sqlite3.SQLiteConn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// sqliteMD5 returns the hex md5 digest of text or blob input, matching
// Postgres md5(). NULL input yields NULL.
func sqliteMD5(v any) any {
	var data []byte
	switch val := v.(type) {
	case []byte:
		if val == nil {
			return nil
		}
		data = val
	case string:
		data = []byte(val)
	case int64:
		data = []byte(fmt.Sprint(val))
	case float64:
		data = []byte(fmt.Sprint(val))
	default:
		return nil
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// sqliteDecode implements decode(text, 'base64').
func sqliteDecode(s, format string) ([]byte, error) {
	if format != "base64" {
		return nil, fmt.Errorf("decode: unsupported format %q", format)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return b, nil
}
