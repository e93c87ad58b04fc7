package server

import (
	"runtime"
	"time"
)

// Config bundles every option spec §6's configuration table enumerates.
// Zero values are replaced by Default()'s values on Server construction.
type Config struct {
	// MaxRequestHeadSize caps the request line plus headers, in bytes.
	MaxRequestHeadSize int
	// MaxErrorRecoveryAttempts caps handler-chain invocations per exchange
	// before the default handler takes over unconditionally.
	MaxErrorRecoveryAttempts int
	// WorkerPoolSize bounds concurrent exchange work process-wide. Read
	// once, at the first server's Start, per spec §5 "Config is read-only
	// after server start for values that affect pool sizing".
	WorkerPoolSize int
	// RejectHTTP10 rejects HTTP/1.0 requests with 426 Upgrade Required.
	RejectHTTP10 bool
	// HeadTimeout bounds idle time while reading a request head.
	HeadTimeout time.Duration
	// BodyTimeout bounds idle time between request body chunks.
	BodyTimeout time.Duration
	// ResponseTimeout bounds idle time while writing a response.
	ResponseTimeout time.Duration
	// IgnoreRejectedInterim silently drops an interim response a
	// pre-1.1 client can't receive, rather than surfacing it as an error.
	// Unlike the other fields this has no zero-value fallback (false is a
	// legitimate explicit choice): start from Default() to get spec's
	// true default.
	IgnoreRejectedInterim bool
}

// Default returns spec §6's default configuration.
func Default() Config {
	return Config{
		MaxRequestHeadSize:       8000,
		MaxErrorRecoveryAttempts: 5,
		WorkerPoolSize:           runtime.NumCPU(),
		RejectHTTP10:             false,
		HeadTimeout:              30 * time.Second,
		BodyTimeout:              30 * time.Second,
		ResponseTimeout:          30 * time.Second,
		IgnoreRejectedInterim:    true,
	}
}

// withDefaults fills any zero-valued field of cfg from Default().
func withDefaults(cfg Config) Config {
	d := Default()
	if cfg.MaxRequestHeadSize <= 0 {
		cfg.MaxRequestHeadSize = d.MaxRequestHeadSize
	}
	if cfg.MaxErrorRecoveryAttempts <= 0 {
		cfg.MaxErrorRecoveryAttempts = d.MaxErrorRecoveryAttempts
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = d.WorkerPoolSize
	}
	if cfg.HeadTimeout <= 0 {
		cfg.HeadTimeout = d.HeadTimeout
	}
	if cfg.BodyTimeout <= 0 {
		cfg.BodyTimeout = d.BodyTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = d.ResponseTimeout
	}
	return cfg
}
