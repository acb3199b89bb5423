package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Config{} and override only what they need.
type Config struct {
	// Admission control.
	MaxConcurrentLoadingTasks  int   // concurrent network fetches; default 4
	MaxConcurrentDecodingTasks int   // concurrent built-in decodes; default 2
	MaxConcurrentDecodingBytes int64 // decoded-byte budget; default 30 MiB

	// Transport.
	RequestTimeout     time.Duration // per-request deadline; 0 = none
	PerHostConnections int64         // concurrent connections per host; default 4
	MaxImageBytes      int64         // reject bodies larger than this; 0 = no limit
	ChunkSize          int           // body read chunk size in bytes; default 32 KiB

	// Decoded-image cache.
	CacheCapacity int // max cached images; 0 disables the cache

	// Request normalization.  Local paths without an extension are assumed
	// to carry this one.
	AssumedExtension string // default ".png"

	// Emit non-fatal diagnostics when two backends at equal priority both
	// match an input.  Release deployments leave this off; resolution then
	// short-circuits at the first match.
	DiagnoseBackendConflicts bool

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		MaxConcurrentLoadingTasks:  4,
		MaxConcurrentDecodingTasks: 2,
		MaxConcurrentDecodingBytes: 30 * 1024 * 1024,
		RequestTimeout:             30 * time.Second,
		PerHostConnections:         4,
		ChunkSize:                  32 * 1024,
		CacheCapacity:              128,
		AssumedExtension:           ".png",
		LogLevel:                   "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.MaxConcurrentLoadingTasks < 1 {
		return errors.New("config: MaxConcurrentLoadingTasks must be at least 1")
	}
	if c.MaxConcurrentDecodingTasks < 1 {
		return errors.New("config: MaxConcurrentDecodingTasks must be at least 1")
	}
	if c.MaxConcurrentDecodingBytes < 1 {
		return errors.New("config: MaxConcurrentDecodingBytes must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.PerHostConnections < 1 {
		return errors.New("config: PerHostConnections must be at least 1")
	}
	return nil
}
