package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Hub.Broadcaster)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, "0.75", cfg.Ledger.Rate().String())
	assert.Equal(t, "0.01", cfg.Ledger.Threshold().String())
	assert.Len(t, cfg.Payments.Plans, 2)
	assert.Len(t, cfg.Payments.Packages, 2)

	pkg, ok := cfg.Payments.Package("small")
	require.True(t, ok)
	assert.Equal(t, int64(50), pkg.Credits)

	_, ok = cfg.Payments.Plan("lifetime")
	assert.False(t, ok)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("LEDGER_CREATOR_RATE", "0.5")
	t.Setenv("LEDGER_LOCK_TIMEOUT", "2s")
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "0.5", cfg.Ledger.Rate().String())
	assert.Equal(t, 2*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_HOST=cache\nJWT_SECRET_KEY=from-file\n"), 0o600))

	t.Setenv("JWT_SECRET_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.Equal(t, "from-env", cfg.JWT.SecretKey)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("creator rate out of range", func(t *testing.T) {
		t.Setenv("LEDGER_CREATOR_RATE", "1.5")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("unknown storage driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "sqlite")
		_, err := Load("")
		assert.Error(t, err)
	})
}
