package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Load reads the configuration file at path, or searches "tiercache.*" in
// the working directory when path is empty and runs without a file if none
// exists. TIERCACHE_* environment variables override file values
// (TIERCACHE_CACHE_STORE_DIR for cache.store.dir).
func Load(path string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("tiercache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tiercache")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func decoderOpt(dc *mapstructure.DecoderConfig) {
	dc.ErrorUnused = true
	dc.TagName = "yaml"
	dc.WeaklyTypedInput = true
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)

	v.SetDefault("cache.memory.max_generations", 5)
	v.SetDefault("cache.idle.enabled", true)
	v.SetDefault("cache.idle.timeout", "60s")
	v.SetDefault("cache.idle.initial_store_timeout", "5s")
	v.SetDefault("cache.idle.large_changes_timeout", "1s")
	v.SetDefault("cache.idle.batch_size", 100)
	v.SetDefault("cache.idle.batch_time", "100ms")
	v.SetDefault("cache.idle.large_change_ratio", 2.0)

	v.SetDefault("cache.store.backend", "disk")
	v.SetDefault("cache.store.namespace", "resolve")
	v.SetDefault("cache.store.codec", "cbor")
	v.SetDefault("cache.store.dir", ".tiercache")
	v.SetDefault("cache.store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("cache.store.redis.prefix", "tiercache:")
	v.SetDefault("cache.store.ristretto.num_counters", 1_000_000)
	v.SetDefault("cache.store.ristretto.max_cost", 64<<20)
	v.SetDefault("cache.store.ristretto.buffer_items", 64)
	v.SetDefault("cache.store.bigcache.life_window", "24h")

	v.SetDefault("resolve.extensions", []string{".js", ".mjs", ".json"})
	v.SetDefault("resolve.main_files", []string{"index"})

	v.SetDefault("build.root", ".")
	v.SetDefault("build.entries", []string{"src/index.js"})
	v.SetDefault("build.dependencies", []string{"package.json"})
	v.SetDefault("build.parallelism", 8)
}

func (c *Config) normalize() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Cache.Store.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Store.Backend))

	root, err := filepath.Abs(c.Build.Root)
	if err != nil {
		return fmt.Errorf("cannot resolve build root: %w", err)
	}
	c.Build.Root = filepath.ToSlash(root)
	if c.Cache.Store.Dir != "" && !filepath.IsAbs(c.Cache.Store.Dir) {
		c.Cache.Store.Dir = filepath.ToSlash(filepath.Join(root, c.Cache.Store.Dir))
	}
	return nil
}
