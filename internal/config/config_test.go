package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.80, cfg.Lookup.ConfidenceThreshold, 0.001)
	assert.InDelta(t, 0.75, cfg.Lookup.MinMatchScore, 0.001)
	assert.Equal(t, 24, cfg.Lookup.CacheTTLHours)
	assert.Equal(t, 24*time.Hour, cfg.Lookup.CacheTTL())
	assert.Equal(t, 10000, cfg.Lookup.MaxCacheEntries)
	assert.Equal(t, 4, cfg.Lookup.BatchConcurrency)
	assert.Equal(t, 1000, cfg.Geocode.MaxCallsPerDay)
	assert.Equal(t, 800, cfg.Geocode.WarningThreshold)
	assert.Equal(t, 3, cfg.Geocode.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Geocode.Timeout())
	assert.Equal(t, 20*time.Second, cfg.Geocode.AttemptTimeout())
	assert.Equal(t, "UTC", cfg.Geocode.TimeZone)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "geolookup.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "Registry", cfg.Store.Sheets.Worksheet)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/geo
  pool:
    max_conns: 20
lookup:
  confidence_threshold: 0.9
golden:
  seed_file: golden.yaml
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/geo", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(20), cfg.Store.Pool.MaxConns)
	assert.InDelta(t, 0.9, cfg.Lookup.ConfidenceThreshold, 0.001)
	assert.Equal(t, "golden.yaml", cfg.Golden.SeedFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 10000, cfg.Lookup.MaxCacheEntries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOLOOKUP_STORE_DRIVER", "sheets")
	t.Setenv("GEOLOOKUP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sheets", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GEOLOOKUP_SERVER_PORT", "3000")
	t.Setenv("GEOLOOKUP_GEOCODE_API_KEY", "test-key")
	t.Setenv("GEOLOOKUP_STORE_SHEETS_SPREADSHEET_ID", "sheet-123")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "test-key", cfg.Geocode.APIKey)
	assert.Equal(t, "sheet-123", cfg.Store.Sheets.SpreadsheetID)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Lookup.ConfidenceThreshold = 0.80
	cfg.Lookup.MinMatchScore = 0.75
	cfg.Lookup.CacheTTLHours = 24
	cfg.Lookup.MaxCacheEntries = 10000
	cfg.Lookup.BatchConcurrency = 4
	cfg.Geocode.APIKey = "key"
	cfg.Geocode.MaxCallsPerDay = 1000
	cfg.Geocode.WarningThreshold = 800
	cfg.Geocode.MaxAttempts = 3
	cfg.Geocode.TimeoutSecs = 60
	cfg.Geocode.AttemptTimeoutSecs = 20
	cfg.Geocode.TimeZone = "UTC"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "geolookup.db"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateResolve_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("resolve"))
}

func TestValidateResolve_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Geocode.APIKey = ""
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "geocode.api_key is required")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateMigrate_SkipsLookupChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Geocode.APIKey = ""

	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateSheets_NeedsSpreadsheetID(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sheets"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.sheets.spreadsheet_id is required")

	cfg.Store.Sheets.SpreadsheetID = "sheet-123"
	assert.NoError(t, cfg.Validate("resolve"))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateThresholds(t *testing.T) {
	cfg := validDefaults()

	cfg.Lookup.ConfidenceThreshold = 1.1
	err := cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold must be in (0, 1]")

	cfg.Lookup.ConfidenceThreshold = 0.75
	err = cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "min_match_score")

	cfg.Lookup.ConfidenceThreshold = 1.0
	assert.NoError(t, cfg.Validate("resolve"))
}

func TestValidateQuota(t *testing.T) {
	cfg := validDefaults()

	cfg.Geocode.WarningThreshold = 1001
	err := cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "warning_threshold")

	cfg.Geocode.WarningThreshold = 1000
	assert.NoError(t, cfg.Validate("resolve"))

	cfg.Geocode.TimeZone = "Mars/Olympus"
	err = cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "time_zone")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Lookup.BatchConcurrency = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch_concurrency must be between 1 and 64")

	cfg.Lookup.BatchConcurrency = 65
	err = cfg.Validate("serve")
	assert.Error(t, err)

	cfg.Lookup.BatchConcurrency = 64
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateAttemptTimeout(t *testing.T) {
	cfg := validDefaults()

	cfg.Geocode.AttemptTimeoutSecs = 61
	err := cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "attempt_timeout_secs")

	cfg.Geocode.AttemptTimeoutSecs = -1
	assert.Error(t, cfg.Validate("resolve"))

	cfg.Geocode.AttemptTimeoutSecs = 0
	assert.NoError(t, cfg.Validate("resolve"))
}
