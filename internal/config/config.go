// Package config loads the tiercache CLI configuration.
package config

import (
	"time"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Cache   CacheConfig   `yaml:"cache"`
	Resolve ResolveConfig `yaml:"resolve"`
	Build   BuildConfig   `yaml:"build"`
}

type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // json | console
	File       string `yaml:"file"`   // empty: stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

type CacheConfig struct {
	Disabled bool         `yaml:"disabled"`
	Memory   MemoryConfig `yaml:"memory"`
	Idle     IdleConfig   `yaml:"idle"`
	Store    StoreConfig  `yaml:"store"`
}

type MemoryConfig struct {
	// MaxGenerations > 0 selects the generational tier; 0 keeps every
	// entry for the life of the process.
	MaxGenerations int `yaml:"max_generations"`
}

type IdleConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Timeout             time.Duration `yaml:"timeout"`
	InitialStoreTimeout time.Duration `yaml:"initial_store_timeout"`
	LargeChangesTimeout time.Duration `yaml:"large_changes_timeout"`
	BatchSize           int           `yaml:"batch_size"`
	BatchTime           time.Duration `yaml:"batch_time"`
	LargeChangeRatio    float64       `yaml:"large_change_ratio"`
}

type StoreConfig struct {
	Backend   string        `yaml:"backend"` // disk | bigcache | ristretto | redis
	Namespace string        `yaml:"namespace"`
	Codec     string        `yaml:"codec"` // json | cbor | msgpack, optional "+snappy"
	TTL       time.Duration `yaml:"ttl"`
	Dir       string        `yaml:"dir"`

	Redis     RedisConfig     `yaml:"redis"`
	Ristretto RistrettoConfig `yaml:"ristretto"`
	Bigcache  BigcacheConfig  `yaml:"bigcache"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	GenTTL   time.Duration `yaml:"gen_ttl"`
}

type RistrettoConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
}

type BigcacheConfig struct {
	LifeWindow   time.Duration `yaml:"life_window"`
	Shards       int           `yaml:"shards"`
	HardMaxMB    int           `yaml:"hard_max_mb"`
	MaxEntrySize int           `yaml:"max_entry_size"`
}

type ResolveConfig struct {
	Extensions       []string `yaml:"extensions"`
	MainFiles        []string `yaml:"main_files"`
	CacheWithContext bool     `yaml:"cache_with_context"`
	SnapshotHash     bool     `yaml:"snapshot_hash"`
}

type BuildConfig struct {
	Root         string   `yaml:"root"`
	Entries      []string `yaml:"entries"`
	Dependencies []string `yaml:"dependencies"`
	Parallelism  int      `yaml:"parallelism"`
}
