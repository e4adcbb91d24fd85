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
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 80.0, cfg.Enrollment.CertificateThreshold)
	assert.False(t, cfg.Enrollment.AutoPromote)
	assert.Equal(t, "@hourly", cfg.Jobs.FinishSweepCron)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("ENROLLMENT_AUTO_PROMOTE", "true")
	t.Setenv("CERTIFICATE_THRESHOLD", "75")
	t.Setenv("SUMMARY_CACHE_TTL", "90s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("TIMEZONE", "America/Argentina/Buenos_Aires")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.True(t, cfg.Enrollment.AutoPromote)
	assert.Equal(t, 75.0, cfg.Enrollment.CertificateThreshold)
	assert.Equal(t, 90*time.Second, cfg.Cache.SummaryTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "America/Argentina/Buenos_Aires", cfg.Location().String())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadClampsThreshold(t *testing.T) {
	t.Setenv("CERTIFICATE_THRESHOLD", "150")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.Enrollment.CertificateThreshold)
}
