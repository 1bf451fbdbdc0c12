package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/store"
)

func TestMigrate_SQLite(t *testing.T) {
	t.Setenv("STATEINDEX_LOG_LEVEL", "error")
	path := filepath.Join(t.TempDir(), "entries.db")

	out, err := execute(context.Background(), t, "migrate", "--db-driver", "sqlite3", "--dsn", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Migrations applied")

	st, err := store.Connect(context.Background(), store.Config{Driver: "sqlite3", DSN: path}, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	h, err := st.LastHandledHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), h)

	// Idempotent
	_, err = execute(context.Background(), t, "migrate", "--db-driver", "sqlite3", "--dsn", path)
	require.NoError(t, err)
}

func TestMigrate_JSON(t *testing.T) {
	t.Setenv("STATEINDEX_LOG_LEVEL", "error")
	path := filepath.Join(t.TempDir(), "entries.db")

	out, err := execute(context.Background(), t, "migrate", "--db-driver", "sqlite3", "--dsn", path, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]interface{}{"driver": "sqlite3"}, resp.Data)
}

func TestMigrate_FlagOverridesConfigFile(t *testing.T) {
	t.Setenv("STATEINDEX_LOG_LEVEL", "error")
	dir := t.TempDir()
	filePath := filepath.Join(dir, "from-file.db")
	flagPath := filepath.Join(dir, "from-flag.db")
	cfgPath := filepath.Join(dir, "stateindex.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: sqlite3\n  dsn: "+filePath+"\n"), 0o644))

	_, err := execute(context.Background(), t, "migrate", "--config", cfgPath, "--dsn", flagPath)
	require.NoError(t, err)
	assert.FileExists(t, flagPath)
	assert.NoFileExists(t, filePath)
}

func TestMigrate_EnvSelectsDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("STATEINDEX_LOG_LEVEL", "error")
	t.Setenv("STATEINDEX_DATABASE_DRIVER", "sqlite3")
	t.Setenv("STATEINDEX_DATABASE_PATH", path)

	_, err := execute(context.Background(), t, "migrate")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestMigrate_UnreachableDatabase(t *testing.T) {
	t.Setenv("STATEINDEX_LOG_LEVEL", "error")
	missing := filepath.Join(t.TempDir(), "no", "such", "dir", "entries.db")

	out, err := execute(context.Background(), t, "migrate", "--db-driver", "sqlite3", "--dsn", missing, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `"code":"E006"`)
}
