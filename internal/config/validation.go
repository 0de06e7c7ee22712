package config

import (
	"fmt"

	"go.uber.org/multierr"
)

// FieldError names the configuration key that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Message) }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fieldErr("log.level", "unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, fieldErr("log.format", "unknown format %q", c.Log.Format))
	}
	if c.Cache.Memory.MaxGenerations < 0 {
		err = multierr.Append(err, fieldErr("cache.memory.max_generations", "must be >= 0"))
	}
	if c.Cache.Idle.LargeChangeRatio < 0 {
		err = multierr.Append(err, fieldErr("cache.idle.large_change_ratio", "must be >= 0"))
	}
	if c.Cache.Idle.BatchSize < 0 {
		err = multierr.Append(err, fieldErr("cache.idle.batch_size", "must be >= 0"))
	}
	s := c.Cache.Store
	if s.Namespace == "" {
		err = multierr.Append(err, fieldErr("cache.store.namespace", "required"))
	}
	switch s.Backend {
	case "disk":
		if s.Dir == "" {
			err = multierr.Append(err, fieldErr("cache.store.dir", "required for the disk backend"))
		}
	case "redis":
		if s.Redis.Addr == "" {
			err = multierr.Append(err, fieldErr("cache.store.redis.addr", "required for the redis backend"))
		}
	case "ristretto":
		if s.Ristretto.NumCounters <= 0 || s.Ristretto.MaxCost <= 0 || s.Ristretto.BufferItems <= 0 {
			err = multierr.Append(err, fieldErr("cache.store.ristretto", "num_counters, max_cost and buffer_items must be > 0"))
		}
	case "bigcache":
	default:
		err = multierr.Append(err, fieldErr("cache.store.backend", "unknown backend %q", s.Backend))
	}
	if len(c.Build.Entries) == 0 {
		err = multierr.Append(err, fieldErr("build.entries", "at least one entry is required"))
	}
	return err
}
