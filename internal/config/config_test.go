package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://esi.evetech.net/latest", cfg.Source.BaseURL)
	assert.Equal(t, "tranquility", cfg.Source.Datasource)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, "state.ndjson", cfg.State.FilePath)
	assert.Equal(t, "bigquery", cfg.Warehouse.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, 400*24*time.Hour, cfg.Schedule.MaintenanceRetention)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ESI_DATASOURCE", "singularity")
	t.Setenv("STATE_BACKEND", "dynamodb")
	t.Setenv("RUN_INTERVAL", "5m")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MAINTENANCE_RETENTION", "2400h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "singularity", cfg.Source.Datasource)
	assert.Equal(t, "dynamodb", cfg.State.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 100*24*time.Hour, cfg.Schedule.MaintenanceRetention)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("RUN_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.Interval)
}
