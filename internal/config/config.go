// Package config provides configuration for the bridge.
package config

import (
	"fmt"
	"time"
)

// Host kinds.
const (
	HostLua = "lua"
	HostRPC = "rpc"
)

// Config holds the bridge configuration.
type Config struct {
	// Server settings
	ListenAddr      string
	SharedSecret    string
	BodyLimit       string
	ShutdownTimeout time.Duration

	// Execution settings
	MinTimeout     time.Duration
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	InputTimeout   time.Duration // 0 means the execution deadline
	MaxConcurrent  int

	// Input correlation
	InputSweepInterval time.Duration
	InputRetention     time.Duration

	// History window
	HistorySize      int
	HistoryRetention time.Duration

	// Health probing
	HealthInterval          time.Duration
	HealthTimeout           time.Duration
	HealthFailureThreshold  int
	HealthRecoverySuccesses int

	// WebSocket settings
	MaxConnections int
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	MessageRate    float64
	MessageBurst   int

	// Host settings
	HostKind       string
	ScriptDir      string
	HostAddr       string
	HostRPCTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when no flag or env var is set.
func Default() *Config {
	return &Config{
		ListenAddr:              ":8080",
		BodyLimit:               "1M",
		ShutdownTimeout:         10 * time.Second,
		MinTimeout:              100 * time.Millisecond,
		DefaultTimeout:          30 * time.Second,
		MaxTimeout:              10 * time.Minute,
		MaxConcurrent:           8,
		InputSweepInterval:      500 * time.Millisecond,
		InputRetention:          5 * time.Minute,
		HistorySize:             1000,
		HistoryRetention:        15 * time.Minute,
		HealthInterval:          10 * time.Second,
		HealthTimeout:           2 * time.Second,
		HealthFailureThreshold:  3,
		HealthRecoverySuccesses: 1,
		MaxConnections:          64,
		SendBuffer:              256,
		PingInterval:            30 * time.Second,
		PongWait:                60 * time.Second,
		WriteTimeout:            10 * time.Second,
		MaxMessageSize:          65536,
		MessageRate:             20,
		MessageBurst:            40,
		HostKind:                HostLua,
		ScriptDir:               "./commands",
		HostAddr:                "127.0.0.1:9100",
		HostRPCTimeout:          5 * time.Second,
		LogLevel:                "info",
		LogFormat:               "console",
	}
}

// ClampTimeout converts a requested timeout in milliseconds into the
// effective execution timeout. Non-positive values select the default.
func (c *Config) ClampTimeout(ms int64) time.Duration {
	if ms <= 0 {
		return c.DefaultTimeout
	}
	if ms >= c.MaxTimeout.Milliseconds() {
		return c.MaxTimeout
	}
	d := time.Duration(ms) * time.Millisecond
	if d < c.MinTimeout {
		return c.MinTimeout
	}
	return d
}

// InputDeadline returns the deadline for a pending input request created at
// now for an execution that must finish by execDeadline.
func (c *Config) InputDeadline(now, execDeadline time.Time) time.Time {
	if c.InputTimeout <= 0 {
		return execDeadline
	}
	if d := now.Add(c.InputTimeout); d.Before(execDeadline) {
		return d
	}
	return execDeadline
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.MinTimeout <= 0 {
		return fmt.Errorf("min timeout must be positive")
	}
	if c.MinTimeout > c.MaxTimeout {
		return fmt.Errorf("min timeout %s exceeds max timeout %s", c.MinTimeout, c.MaxTimeout)
	}
	if c.DefaultTimeout < c.MinTimeout || c.DefaultTimeout > c.MaxTimeout {
		return fmt.Errorf("default timeout %s outside [%s, %s]", c.DefaultTimeout, c.MinTimeout, c.MaxTimeout)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max connections must be at least 1")
	}
	if c.HealthFailureThreshold < 1 {
		return fmt.Errorf("health failure threshold must be at least 1")
	}
	if c.HealthRecoverySuccesses < 1 {
		return fmt.Errorf("health recovery successes must be at least 1")
	}
	if c.HealthInterval <= 0 || c.HealthTimeout <= 0 {
		return fmt.Errorf("health interval and timeout must be positive")
	}
	if c.PingInterval >= c.PongWait {
		return fmt.Errorf("ping interval %s must be shorter than pong wait %s", c.PingInterval, c.PongWait)
	}
	if c.InputSweepInterval <= 0 {
		return fmt.Errorf("input sweep interval must be positive")
	}
	switch c.HostKind {
	case HostLua, HostRPC:
	default:
		return fmt.Errorf("unsupported host %q", c.HostKind)
	}
	return nil
}
