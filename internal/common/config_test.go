package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, "./data", config.Storage.DataRoot)
	assert.True(t, config.Storage.SQLite.WALMode)
	assert.Equal(t, 5*time.Second, config.Generation.PollInterval)
	assert.Equal(t, 1, config.Generation.PageConcurrency)
	assert.Equal(t, "google", config.Providers.Default)
	assert.Equal(t, []string{"openai", "google", "ollama"}, config.Embeddings.Chain)
	assert.True(t, config.Embeddings.SyntaxAware)
	assert.Equal(t, 20, config.Retrieval.TopK)
	assert.True(t, config.Scheduler.Enabled)
	assert.Equal(t, "0 */10 * * * *", config.Scheduler.MaintenanceCron)

	assert.NoError(t, config.Validate())
}

func TestDatabasePath(t *testing.T) {
	config := NewDefaultConfig()
	config.Storage.DataRoot = "/srv/wiki"
	assert.Equal(t, filepath.Join("/srv/wiki", "codewiki", "codewiki.db"), config.DatabasePath())

	config.Storage.SQLite.Path = "/tmp/explicit.db"
	assert.Equal(t, "/tmp/explicit.db", config.DatabasePath())
}

func TestWikiCacheDir(t *testing.T) {
	config := NewDefaultConfig()
	config.Storage.DataRoot = "/srv/wiki"
	assert.Equal(t, filepath.Join("/srv/wiki", "codewiki", "cache"), config.WikiCacheDir())

	config.Generation.CacheDir = "/var/cache/wiki"
	assert.Equal(t, "/var/cache/wiki", config.WikiCacheDir())
}

func TestLoadFromFilesMergesInOrder(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
environment = "production"

[server]
port = 9000
host = "0.0.0.0"

[guards]
requests_per_minute = 5
monthly_budget_usd = 25.0
`)
	override := writeConfigFile(t, "override.toml", `
[server]
port = 9100
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 5, config.Guards.RequestsPerMinute)
	assert.InDelta(t, 25.0, config.Guards.MonthlyBudgetUSD, 0.001)

	// Untouched sections keep their defaults.
	assert.Equal(t, "google", config.Providers.Default)
	assert.Equal(t, 64, config.Storage.SQLite.CacheSizeMB)
}

func TestLoadFromFilesSkipsEmptyPaths(t *testing.T) {
	path := writeConfigFile(t, "only.toml", `
[server]
port = 9200
`)

	config, err := LoadFromFiles("", path, "")
	require.NoError(t, err)
	assert.Equal(t, 9200, config.Server.Port)
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFromFilesRejectsMalformedToml(t *testing.T) {
	path := writeConfigFile(t, "broken.toml", "[server\nport = 9000")

	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadFromFileEmptyPathUsesDefaults(t *testing.T) {
	config, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CODEWIKI_ENV", "production")
	t.Setenv("CODEWIKI_SERVER_PORT", "9321")
	t.Setenv("CODEWIKI_LOG_OUTPUT", "stdout, file ,")
	t.Setenv("CODEWIKI_DEFAULT_PROVIDER", "ollama")
	t.Setenv("CODEWIKI_EMBEDDER_CHAIN", "ollama,google")
	t.Setenv("CODEWIKI_SYNTAX_AWARE_CHUNKING", "false")
	t.Setenv("CODEWIKI_PAGE_TIMEOUT", "90s")
	t.Setenv("GOOGLE_API_KEY", "test-google-key")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 9321, config.Server.Port)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.Equal(t, "ollama", config.Providers.Default)
	assert.Equal(t, []string{"ollama", "google"}, config.Embeddings.Chain)
	assert.False(t, config.Embeddings.SyntaxAware)
	assert.Equal(t, 90*time.Second, config.Generation.PageTimeout)
	assert.Equal(t, "test-google-key", config.Providers.Google.APIKey)
}

func TestEnvOverridesIgnoreUnparseableValues(t *testing.T) {
	t.Setenv("CODEWIKI_SERVER_PORT", "not-a-number")
	t.Setenv("CODEWIKI_PAGE_TIMEOUT", "soon")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 600*time.Second, config.Generation.PageTimeout)
}

func TestEnvFallsBackToGoEnv(t *testing.T) {
	t.Setenv("CODEWIKI_ENV", "")
	t.Setenv("GO_ENV", "staging")

	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, "staging", config.Environment)
}

func TestValidateRejectsBadValues(t *testing.T) {
	config := NewDefaultConfig()
	config.Server.Port = 0
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Generation.PageConcurrency = 0
	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_concurrency")

	config = NewDefaultConfig()
	config.Generation.MaxPageRetries = 0
	err = config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_page_retries")
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 9555, "0.0.0.0")
	assert.Equal(t, 9555, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 9555, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}
