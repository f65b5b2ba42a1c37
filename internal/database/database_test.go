package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camrec/internal/config"
	"github.com/jmylchreest/camrec/internal/models"
)

func sqliteConfig(dsn string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             dsn,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "silent",
	}
}

func TestOpen_SQLiteMemory(t *testing.T) {
	db, err := Open(sqliteConfig(":memory:"), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())
}

func TestOpen_InvalidDriver(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, `unsupported database driver "oracle" (want one of mysql, postgres, sqlite)`)
}

func TestPoolLimits(t *testing.T) {
	tests := []struct {
		cfg        config.DatabaseConfig
		open, idle int
	}{
		{config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, 1, 1},
		{config.DatabaseConfig{Driver: "sqlite", DSN: "/var/lib/camrec.db", MaxOpenConns: 50}, 4, 2},
		{config.DatabaseConfig{Driver: "postgres", MaxOpenConns: 25, MaxIdleConns: 5}, 25, 5},
	}
	for _, tt := range tests {
		open, idle := poolLimits(tt.cfg)
		assert.Equal(t, tt.open, open, tt.cfg.DSN)
		assert.Equal(t, tt.idle, idle, tt.cfg.DSN)
	}
}

func TestOpenAndMigrate_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camrec.db")
	ctx := context.Background()

	db, err := OpenAndMigrate(ctx, sqliteConfig(path), nil)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("recordings"))
	assert.True(t, db.Migrator().HasTable("schedule_runs"))

	var journalMode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	rec := &models.Recording{SessionID: "s1", Path: "/tmp/a.mp4", Container: "mp4", State: models.RecordingStateStopped, StartedAt: time.Now()}
	require.NoError(t, db.Create(rec).Error)
	require.NoError(t, db.Close())

	// Reopening applies nothing new and keeps the data.
	db, err = OpenAndMigrate(ctx, sqliteConfig(path), nil)
	require.NoError(t, err)
	defer db.Close()

	var count int64
	require.NoError(t, db.Model(&models.Recording{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDB_Close(t *testing.T) {
	db, err := Open(sqliteConfig(":memory:"), nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}
