package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wreck-hazard-monitor", cfg.AppID)
	assert.Equal(t, []string{"wrecks"}, cfg.SiteCollections)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "hazard:", cfg.RedisPrefix)
	assert.Equal(t, 10, cfg.TxMaxAttempts)
	assert.Equal(t, time.Hour, cfg.ProcessInterval)
	assert.Equal(t, 8, cfg.ProcessWorkers)
	assert.Equal(t, 15*time.Second, cfg.FeedTimeout)
	assert.Equal(t, Hazard{Enabled: true, Threshold: 0.10, Window: 6 * time.Hour}, cfg.Hazards[domain.HazardEarthquakes])
	assert.Equal(t, Hazard{Enabled: true, Threshold: 0.5, Window: 3 * time.Hour}, cfg.Hazards[domain.HazardStorms])
	assert.Equal(t, []string{domain.HazardEarthquakes, domain.HazardStorms}, cfg.EnabledHazards())
	assert.InDelta(t, 2.5, cfg.USGSMinMagnitude, 1e-9)
	assert.Equal(t, 5, cfg.DispatchMaxAttempts)
	assert.Equal(t, 4, cfg.DispatchWorkers)
	assert.Equal(t, 5*time.Minute, cfg.ChangeTrimInterval)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "hazard-store-changes", cfg.KafkaChangesTopic)
	assert.Equal(t, "hazard-aggregator", cfg.KafkaGroupID)
	assert.Empty(t, cfg.ManifestBucket)
	assert.Equal(t, time.Hour, cfg.ManifestInterval)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.False(t, cfg.S3UseSSL)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("APP_ID", "prod-monitor")
	t.Setenv("SITE_COLLECTIONS", "wrecks, reefs")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("STORE", "memory")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("PROCESS_INTERVAL", "15m")
	t.Setenv("PROCESS_WORKERS", "4")
	t.Setenv("SEISMIC_THRESHOLD_G", "0.2")
	t.Setenv("STORM_ENABLED", "false")
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "3")
	t.Setenv("DISPATCH_WORKERS", "2")
	t.Setenv("CHANGE_TRIM_INTERVAL", "30s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("MANIFEST_BUCKET", "manifests")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod-monitor", cfg.AppID)
	assert.Equal(t, []string{"wrecks", "reefs"}, cfg.SiteCollections)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 15*time.Minute, cfg.ProcessInterval)
	assert.Equal(t, 4, cfg.ProcessWorkers)
	assert.InDelta(t, 0.2, cfg.Hazards[domain.HazardEarthquakes].Threshold, 1e-9)
	assert.Equal(t, []string{domain.HazardEarthquakes}, cfg.EnabledHazards())
	assert.Equal(t, 3, cfg.DispatchMaxAttempts)
	assert.Equal(t, 2, cfg.DispatchWorkers)
	assert.Equal(t, 30*time.Second, cfg.ChangeTrimInterval)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "manifests", cfg.ManifestBucket)
	assert.True(t, cfg.S3UseSSL)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PROCESS_INTERVAL", "soon"},
		{"PROCESS_INTERVAL", "-1m"},
		{"PROCESS_WORKERS", "0"},
		{"PROCESS_WORKERS", "many"},
		{"REDIS_DB", "-1"},
		{"SEISMIC_THRESHOLD_G", "0"},
		{"STORM_THRESHOLD", "high"},
		{"USGS_MIN_MAGNITUDE", "-2"},
		{"KAFKA_ENABLED", "maybe"},
		{"DISPATCH_MAX_ATTEMPTS", "0"},
		{"DISPATCH_WORKERS", "0"},
		{"CHANGE_TRIM_INTERVAL", "often"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_InvalidStore(t *testing.T) {
	t.Setenv("STORE", "postgres")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE")
}

func TestLoad_EmptySiteCollections(t *testing.T) {
	t.Setenv("SITE_COLLECTIONS", " , ")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SITE_COLLECTIONS")
}

func writeHazardsFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hazards.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_HazardsFile(t *testing.T) {
	t.Setenv("HAZARDS_FILE", writeHazardsFile(t, `
hazards:
  earthquakes:
    threshold: 0.25
    window: 12h
  storms:
    enabled: false
`))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Hazard{Enabled: true, Threshold: 0.25, Window: 12 * time.Hour}, cfg.Hazards[domain.HazardEarthquakes])
	assert.False(t, cfg.Hazards[domain.HazardStorms].Enabled)
	assert.InDelta(t, 0.5, cfg.Hazards[domain.HazardStorms].Threshold, 1e-9, "unset fields keep the env value")
	assert.Equal(t, []string{domain.HazardEarthquakes}, cfg.EnabledHazards())
}

func TestLoad_HazardsFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			wantErr: "read HAZARDS_FILE",
		},
		{
			name:    "malformed yaml",
			path:    func(t *testing.T) string { return writeHazardsFile(t, "hazards: [") },
			wantErr: "parse HAZARDS_FILE",
		},
		{
			name:    "unknown hazard",
			path:    func(t *testing.T) string { return writeHazardsFile(t, "hazards:\n  floods:\n    threshold: 1\n") },
			wantErr: `unknown hazard type "floods"`,
		},
		{
			name:    "non-positive window",
			path:    func(t *testing.T) string { return writeHazardsFile(t, "hazards:\n  storms:\n    window: 0s\n") },
			wantErr: "hazard storms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HAZARDS_FILE", tt.path(t))
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
