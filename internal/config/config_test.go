package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	c, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.True(t, c.DBMigrate)
	assert.Equal(t, 3*time.Second, c.OracleTimeout)
	assert.Equal(t, 5*time.Second, c.StoreTimeout)
	assert.Equal(t, 10*time.Second, c.AdvisorTimeout)
	assert.Equal(t, 10, c.WebhookMaxAttempts)
	assert.Equal(t, "dev", c.AuthMode)
	assert.Equal(t, "role", c.AuthRoleClaim)
}

func TestOverrides(t *testing.T) {
	c, err := FromEnv(env(map[string]string{
		"PORT":                 "9090",
		"DB_MIGRATE":           "false",
		"ORACLE_TIMEOUT":       "750ms",
		"ROADGRAPH_MAX_SNAP_M": "0",
		"RATE_RPS":             "2.5",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.False(t, c.DBMigrate)
	assert.Equal(t, 750*time.Millisecond, c.OracleTimeout)
	assert.Equal(t, 0.0, c.RoadGraphMaxSnap)
	assert.Equal(t, 2.5, c.RateRPS)
}

func TestBadValue(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"STORE_TIMEOUT": "five"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_TIMEOUT")
}

func TestRedactedHidesSecrets(t *testing.T) {
	c := Config{DatabaseURL: "postgres://u:p@h/db", AdvisorAPIKey: "k", AuthHMACSecret: "s3cret"}
	r := c.Redacted()
	assert.Equal(t, true, r["HAS_DATABASE_URL"])
	for _, v := range r {
		assert.NotEqual(t, "postgres://u:p@h/db", v)
		assert.NotEqual(t, "k", v)
		assert.NotEqual(t, "s3cret", v)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(f, []byte("ROADGRAPH_FILE=/srv/roads/district.yaml\n"), 0o600))
	t.Setenv("ROADGRAPH_FILE", "")
	require.NoError(t, os.Unsetenv("ROADGRAPH_FILE"))
	c, err := Load(f)
	require.NoError(t, err)
	assert.Equal(t, "/srv/roads/district.yaml", c.RoadGraphFile)
}
