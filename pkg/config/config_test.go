package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/category"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LEDGER_CONFIG_FILE", "LEDGER_DATA_DIR", "LEDGER_DB_PATH", "LEDGER_HTTP_ADDR",
		"LEDGER_OUTBOX_BATCH_SIZE", "LEDGER_OUTBOX_MAX_ATTEMPTS", "DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "ledger.db"), cfg.Database.Path)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.Categories)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "ledger.yaml", `
server:
  addr: ":9090"
  read_timeout: 5s
database:
  data_dir: /var/lib/ledger
outbox:
  poll_interval: 500ms
  batch_size: 20
  max_attempts: 3
categories:
  - name: Groceries
    kind: expense
  - name: Salary
    kind: income
`)
	t.Setenv("LEDGER_CONFIG_FILE", path)
	t.Setenv("LEDGER_HTTP_ADDR", ":7070")
	t.Setenv("LEDGER_OUTBOX_BATCH_SIZE", "50")
	t.Setenv("DEBUG", "true")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "environment wins over the file")
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, filepath.Join("/var/lib/ledger", "ledger.db"), cfg.Database.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []category.Default{
		{Name: "Groceries", Kind: category.KindExpense},
		{Name: "Salary", Kind: category.KindIncome},
	}, cfg.Categories)
}

func TestLoadExplicitFiles(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that is set, even to "".
	require.NoError(t, os.Unsetenv("LEDGER_DB_PATH"))
	envFile := writeFile(t, ".env", "LEDGER_DB_PATH=/tmp/explicit.db\n")
	configFile := writeFile(t, "ledger.yaml", "server:\n  addr: \":6060\"\n")

	cfg, err := Load(Options{EnvFile: envFile, ConfigFile: configFile})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/explicit.db", cfg.Database.Path)
	assert.Equal(t, ":6060", cfg.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.Error(t, err)

	_, err = Load(Options{ConfigFile: writeFile(t, "bad.yaml", "server: [")})
	assert.Error(t, err)

	_, err = Load(Options{ConfigFile: writeFile(t, "cat.yaml", "categories:\n  - name: Gifts\n    kind: transfer\n")})
	assert.Error(t, err)

	t.Setenv("LEDGER_OUTBOX_BATCH_SIZE", "many")
	_, err = Load(Options{})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Path: "x.db"}}

	assert.NoError(t, cfg.Validate([]string{"database", "path"}))

	err := cfg.Validate([]string{"database", "path"}, []string{"server", "addr"}, []string{"categories", "list"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr")
	assert.Contains(t, err.Error(), "categories.list")
	assert.NotContains(t, err.Error(), "database.path")
}
