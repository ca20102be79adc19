package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONSUMER_KEY", "consumer")
	t.Setenv("LTI_SECRET", "lti-secret")
	t.Setenv("SESSION_SECRET", "session-secret")
}

func TestLoadCatchDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ANNOTATION_DB_URL", "http://catch.example.com")
	t.Setenv("ANNOTATION_DB_API_KEY", "api-key")
	t.Setenv("ANNOTATION_DB_SECRET_TOKEN", "api-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendCatch, cfg.StoreBackend, "catch is the default backend")
	assert.Equal(t, "3000", cfg.Port)
	assert.False(t, cfg.GatherStatistics)
	assert.False(t, cfg.AdminGroupEnabled())
}

func TestLoadCatchRequiresRemoteCredentials(t *testing.T) {
	setBaseEnv(t)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppBackend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_BACKEND", "app")
	t.Setenv("DB_DATABASE", "annostore")
	t.Setenv("DB_USER", "annostore")
	t.Setenv("GATHER_STATISTICS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendApp, cfg.StoreBackend)
	assert.True(t, cfg.GatherStatistics)
	assert.Equal(t, "mysql", cfg.DBType)
	assert.Equal(t, 5, cfg.DBConnectionLimit)
}

func TestLoadAppBackendRequiresDatabase(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_BACKEND", "app")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadSQLiteSkipsUserRequirement(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_BACKEND", "app")
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_DATABASE", "/tmp/annostore.db")

	_, err := Load()
	assert.NoError(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_BACKEND", "cloud")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresLTISecrets(t *testing.T) {
	t.Setenv("CONSUMER_KEY", "consumer")

	_, err := Load()
	assert.Error(t, err)
}

func TestAdminGroupEnabled(t *testing.T) {
	cfg := &Config{Organization: "ATG"}
	assert.True(t, cfg.AdminGroupEnabled())

	cfg.Organization = "other"
	assert.False(t, cfg.AdminGroupEnabled())
}
