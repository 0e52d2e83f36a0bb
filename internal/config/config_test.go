package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"shale/internal/db"

	"github.com/stretchr/testify/require"
)

func TestParseFillsDefaults(t *testing.T) {
	c, err := Parse([]byte("base_path: /var/lib/shale\nmemtable_limit_bytes: 1024\n"))
	require.NoError(t, err)

	def := DefaultConfig()
	require.Equal(t, "/var/lib/shale", c.BasePath)
	require.Equal(t, 1024, c.MemtableLimitBytes)
	require.Equal(t, def.ListenAddr, c.ListenAddr)
	require.Equal(t, def.SSTableLevelLimit, c.SSTableLevelLimit)
	require.Equal(t, *def.CompactionInterval, *c.CompactionInterval)
	require.NotNil(t, c.Compression)
	require.True(t, *c.Compression)
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), c)
}

func TestParseDurationsAndFlags(t *testing.T) {
	c, err := Parse([]byte(`
compaction_interval: 30s
idle_timeout: 2m
compression: false
sstable_level_limit: 5
max_conns: 8
`))
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, *c.CompactionInterval)
	require.Equal(t, 2*time.Minute, c.IdleTimeout)
	require.False(t, *c.Compression)
	require.Equal(t, 5, c.SSTableLevelLimit)

	srv := c.ServerOptions()
	require.Equal(t, int64(8), srv.MaxConns)
	require.Equal(t, 2*time.Minute, srv.IdleTimeout)
}

func TestParseZeroCompactionIntervalDisablesTick(t *testing.T) {
	c, err := Parse([]byte("compaction_interval: 0s\n"))
	require.NoError(t, err)
	require.NotNil(t, c.CompactionInterval)
	require.Zero(t, *c.CompactionInterval)

	opts := db.DefaultOptions
	for _, fn := range c.DBOptions() {
		fn(&opts)
	}
	require.Zero(t, opts.CompactionInterval)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("base_pth: typo\n"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shale.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: 127.0.0.1:4000\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4000", c.ListenAddr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDBOptions(t *testing.T) {
	c := DefaultConfig()
	c.BasePath = "somewhere"
	c.SSTableLevelLimit = 3
	c.MemtableLimitBytes = 4096

	opts := db.DefaultOptions
	for _, fn := range c.DBOptions() {
		fn(&opts)
	}
	require.Equal(t, "somewhere", opts.Dir)
	require.Equal(t, 3, opts.NumLevels)
	require.Equal(t, 4096, opts.MemtableFlushThreshold)
	require.Equal(t, db.DefaultOptions.BlockCacheCapacity, opts.BlockCacheCapacity)
}

func TestNewLogger(t *testing.T) {
	c := DefaultConfig()
	l, err := c.NewLogger()
	require.NoError(t, err)
	require.NotNil(t, l)

	c.LogLevel = "debug"
	l, err = c.NewLogger()
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))

	c.LogLevel = "loud"
	_, err = c.NewLogger()
	require.Error(t, err)
}
