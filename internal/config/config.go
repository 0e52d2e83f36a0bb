// Package config loads the server's YAML configuration and maps it onto
// engine and server options.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"shale/internal/db"
	"shale/internal/server"
)

const (
	defaultListenAddr = "0.0.0.0:3333"
	defaultLogLevel   = "info"
)

// Config holds every tunable of the server binary.
type Config struct {
	BasePath   string `yaml:"base_path"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	MemtableLimitBytes int   `yaml:"memtable_limit_bytes"`
	MaxFrozenMemtables int   `yaml:"max_frozen_memtables"`
	WALMaxBytes        int64 `yaml:"wal_max_bytes"`
	MaxBatchSize       int   `yaml:"max_batch_size"`

	BlockSize               int     `yaml:"block_size"`
	TargetFileSize          uint64  `yaml:"target_file_size"`
	FilterFalsePositiveRate float64 `yaml:"filter_false_positive_rate"`
	Compression             *bool   `yaml:"compression"`
	BlockCacheCapacity      int     `yaml:"block_cache_capacity"`

	SSTableLevelLimit   int           `yaml:"sstable_level_limit"`
	L0CompactionTrigger int           `yaml:"l0_compaction_trigger"`
	BaseLevelBytes      int64         `yaml:"base_level_bytes"`
	LevelSizeMultiplier float64       `yaml:"level_size_multiplier"`
	// CompactionInterval of 0 disables the periodic compaction check.
	CompactionInterval *time.Duration `yaml:"compaction_interval"`

	MaxConns    int64         `yaml:"max_conns"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	compression := db.DefaultOptions.Compression
	interval := db.DefaultOptions.CompactionInterval
	return &Config{
		BasePath:                db.DefaultOptions.Dir,
		ListenAddr:              defaultListenAddr,
		LogLevel:                defaultLogLevel,
		MemtableLimitBytes:      db.DefaultOptions.MemtableFlushThreshold,
		MaxFrozenMemtables:      db.DefaultOptions.MaxFrozenMemtables,
		WALMaxBytes:             db.DefaultOptions.WALMaxBytes,
		MaxBatchSize:            db.DefaultOptions.MaxBatchSize,
		BlockSize:               db.DefaultOptions.BlockSize,
		TargetFileSize:          db.DefaultOptions.TargetFileSize,
		FilterFalsePositiveRate: db.DefaultOptions.FilterFalsePositiveRate,
		Compression:             &compression,
		BlockCacheCapacity:      db.DefaultOptions.BlockCacheCapacity,
		SSTableLevelLimit:       db.DefaultOptions.NumLevels,
		L0CompactionTrigger:     db.DefaultOptions.L0CompactionTrigger,
		BaseLevelBytes:          db.DefaultOptions.BaseLevelBytes,
		LevelSizeMultiplier:     db.DefaultOptions.LevelSizeMultiplier,
		CompactionInterval:      &interval,
		MaxConns:                server.DEFAULT_MAX_CONNS,
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = def.BasePath
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.MemtableLimitBytes == 0 {
		c.MemtableLimitBytes = def.MemtableLimitBytes
	}
	if c.MaxFrozenMemtables == 0 {
		c.MaxFrozenMemtables = def.MaxFrozenMemtables
	}
	if c.WALMaxBytes == 0 {
		c.WALMaxBytes = def.WALMaxBytes
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.BlockSize == 0 {
		c.BlockSize = def.BlockSize
	}
	if c.TargetFileSize == 0 {
		c.TargetFileSize = def.TargetFileSize
	}
	if c.FilterFalsePositiveRate == 0 {
		c.FilterFalsePositiveRate = def.FilterFalsePositiveRate
	}
	if c.Compression == nil {
		c.Compression = def.Compression
	}
	if c.BlockCacheCapacity == 0 {
		c.BlockCacheCapacity = def.BlockCacheCapacity
	}
	if c.SSTableLevelLimit == 0 {
		c.SSTableLevelLimit = def.SSTableLevelLimit
	}
	if c.L0CompactionTrigger == 0 {
		c.L0CompactionTrigger = def.L0CompactionTrigger
	}
	if c.BaseLevelBytes == 0 {
		c.BaseLevelBytes = def.BaseLevelBytes
	}
	if c.LevelSizeMultiplier == 0 {
		c.LevelSizeMultiplier = def.LevelSizeMultiplier
	}
	if c.CompactionInterval == nil {
		c.CompactionInterval = def.CompactionInterval
	}
	if c.MaxConns == 0 {
		c.MaxConns = def.MaxConns
	}
}

// Load reads a YAML config file. Unknown keys are rejected; missing keys
// take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.FillDefaults()
	return c, nil
}

// DBOptions converts the config into engine options.
func (c *Config) DBOptions() []db.Option {
	return []db.Option{
		db.WithDir(c.BasePath),
		db.WithMemtableFlushThreshold(c.MemtableLimitBytes),
		db.WithMaxFrozenMemtables(c.MaxFrozenMemtables),
		db.WithWALMaxBytes(c.WALMaxBytes),
		db.WithMaxBatchSize(c.MaxBatchSize),
		db.WithBlockSize(c.BlockSize),
		db.WithTargetFileSize(c.TargetFileSize),
		db.WithFilterFalsePositiveRate(c.FilterFalsePositiveRate),
		db.WithCompression(*c.Compression),
		db.WithBlockCacheCapacity(c.BlockCacheCapacity),
		db.WithNumLevels(c.SSTableLevelLimit),
		db.WithL0CompactionTrigger(c.L0CompactionTrigger),
		db.WithBaseLevelBytes(c.BaseLevelBytes),
		db.WithLevelSizeMultiplier(c.LevelSizeMultiplier),
		db.WithCompactionInterval(*c.CompactionInterval),
	}
}

func (c *Config) ServerOptions() server.Options {
	opts := server.DefaultOptions()
	opts.MaxConns = c.MaxConns
	opts.IdleTimeout = c.IdleTimeout
	return opts
}

// NewLogger builds a production logger, or a development one when the
// level is debug.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
