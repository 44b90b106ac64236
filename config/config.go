// Package config resolves the storage substrate's tuning knobs once at
// startup, threading an immutable config struct through constructors
// rather than reading process state at runtime.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pbnjay/memory"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// CoreConfig holds every enumerated tuning option from the external
// interfaces section. Zero value fields that are "optional, zero-defaulted
// to off" stay zero unless explicitly set.
type CoreConfig struct {
	MaxConcurrentTasks     int           `toml:"max_concurrent_tasks"`
	MaxComputationDepth    int           `toml:"max_computation_depth"`
	TransactionCacheSize   int           `toml:"transaction_cache_size"`
	DatastoreCacheSize     int           `toml:"datastore_cache_size"`
	GenerationAllocLimit   int64         `toml:"generation_allocation_limit"`
	MemoryThresholdBytes   uint64        `toml:"memory_threshold_bytes"`
	WALFlushInterval       time.Duration `toml:"wal_flush_interval"`
	SSTSpaceLimitBytes     uint64        `toml:"sst_space_limit_bytes"`
	CommitBatchMaxSize     int           `toml:"commit_batch_max_size"`
	CommitBatchWindow      time.Duration `toml:"commit_batch_window"`
	VersionstampTickPeriod time.Duration `toml:"versionstamp_tick_period"`
}

// Defaults returns the documented defaults, with optional knobs left at
// their zero ("off") value.
func Defaults() CoreConfig {
	return CoreConfig{
		MaxConcurrentTasks:     64,
		MaxComputationDepth:    120,
		TransactionCacheSize:   10_000,
		DatastoreCacheSize:     1_000,
		GenerationAllocLimit:   1 << 20,
		VersionstampTickPeriod: 100 * time.Millisecond,
	}
}

// Load resolves a CoreConfig starting from Defaults, optionally decoding a
// TOML file at path (ignored if empty or missing), then applying
// environment-variable overrides. This matches §6: "resolved once at
// startup from the process environment (or a config struct when
// embedded)".
func Load(path string) (CoreConfig, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, errors.Wrap(err, "config: read toml file")
		}
		if err == nil {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.Wrap(err, "config: decode toml file")
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.MemoryThresholdBytes == 0 {
		cfg.MemoryThresholdBytes = memory.TotalMemory()
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *CoreConfig) {
	if v, ok := envInt("CORE_MAX_CONCURRENT_TASKS"); ok {
		cfg.MaxConcurrentTasks = v
	}
	if v, ok := envInt("CORE_MAX_COMPUTATION_DEPTH"); ok {
		cfg.MaxComputationDepth = v
	}
	if v, ok := envInt("CORE_TRANSACTION_CACHE_SIZE"); ok {
		cfg.TransactionCacheSize = v
	}
	if v, ok := envInt("CORE_DATASTORE_CACHE_SIZE"); ok {
		cfg.DatastoreCacheSize = v
	}
	if v, ok := envInt64("CORE_GENERATION_ALLOCATION_LIMIT"); ok {
		cfg.GenerationAllocLimit = v
	}
	if v, ok := envSize("CORE_MEMORY_THRESHOLD"); ok {
		cfg.MemoryThresholdBytes = v
	}
	if v, ok := envDuration("CORE_WAL_FLUSH_INTERVAL"); ok {
		cfg.WALFlushInterval = v
	}
	if v, ok := envSize("CORE_SST_SPACE_LIMIT"); ok {
		cfg.SSTSpaceLimitBytes = v
	}
	if v, ok := envInt("CORE_COMMIT_BATCH_MAX_SIZE"); ok {
		cfg.CommitBatchMaxSize = v
	}
	if v, ok := envDuration("CORE_COMMIT_BATCH_WINDOW"); ok {
		cfg.CommitBatchWindow = v
	}
	if v, ok := envDuration("CORE_VERSIONSTAMP_TICK_PERIOD"); ok {
		cfg.VersionstampTickPeriod = v
	}
}

func envInt(key string) (int, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func envInt64(key string) (int64, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func envDuration(key string) (time.Duration, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := time.ParseDuration(s)
	return v, err == nil
}

func envSize(key string) (uint64, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(s)); err != nil {
		return 0, false
	}
	return v.Bytes(), true
}
