package config

import (
	"github.com/urfave/cli/v2"
)

// Flags returns the command line flags for the bridge server. Every flag can
// also be set through its BRIDGE_* environment variable.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "listen-addr", Value: d.ListenAddr, EnvVars: []string{"BRIDGE_LISTEN_ADDR"}, Usage: "Address for the HTTP and WebSocket server."},
		&cli.StringFlag{Name: "shared-secret", EnvVars: []string{"BRIDGE_SHARED_SECRET"}, Usage: "Shared secret required on every request. Empty disables the check."},
		&cli.StringFlag{Name: "body-limit", Value: d.BodyLimit, EnvVars: []string{"BRIDGE_BODY_LIMIT"}, Usage: "Maximum request body size, e.g. 1M."},
		&cli.DurationFlag{Name: "shutdown-timeout", Value: d.ShutdownTimeout, EnvVars: []string{"BRIDGE_SHUTDOWN_TIMEOUT"}},

		&cli.DurationFlag{Name: "min-timeout", Value: d.MinTimeout, EnvVars: []string{"BRIDGE_MIN_TIMEOUT"}, Usage: "Lower bound for per-call timeouts."},
		&cli.DurationFlag{Name: "default-timeout", Value: d.DefaultTimeout, EnvVars: []string{"BRIDGE_DEFAULT_TIMEOUT"}, Usage: "Timeout used when the caller sends none."},
		&cli.DurationFlag{Name: "max-timeout", Value: d.MaxTimeout, EnvVars: []string{"BRIDGE_MAX_TIMEOUT"}, Usage: "Upper bound for per-call timeouts."},
		&cli.DurationFlag{Name: "input-timeout", EnvVars: []string{"BRIDGE_INPUT_TIMEOUT"}, Usage: "Deadline for a single input request. 0 uses the execution deadline."},
		&cli.IntFlag{Name: "max-concurrent", Value: d.MaxConcurrent, EnvVars: []string{"BRIDGE_MAX_CONCURRENT"}, Usage: "Concurrency ceiling for in-flight executions."},

		&cli.DurationFlag{Name: "input-sweep-interval", Value: d.InputSweepInterval, EnvVars: []string{"BRIDGE_INPUT_SWEEP_INTERVAL"}},
		&cli.DurationFlag{Name: "input-retention", Value: d.InputRetention, EnvVars: []string{"BRIDGE_INPUT_RETENTION"}, Usage: "How long answered or expired input requests are remembered."},
		&cli.IntFlag{Name: "history-size", Value: d.HistorySize, EnvVars: []string{"BRIDGE_HISTORY_SIZE"}},
		&cli.DurationFlag{Name: "history-retention", Value: d.HistoryRetention, EnvVars: []string{"BRIDGE_HISTORY_RETENTION"}},

		&cli.DurationFlag{Name: "health-interval", Value: d.HealthInterval, EnvVars: []string{"BRIDGE_HEALTH_INTERVAL"}},
		&cli.DurationFlag{Name: "health-timeout", Value: d.HealthTimeout, EnvVars: []string{"BRIDGE_HEALTH_TIMEOUT"}},
		&cli.IntFlag{Name: "health-failure-threshold", Value: d.HealthFailureThreshold, EnvVars: []string{"BRIDGE_HEALTH_FAILURE_THRESHOLD"}},
		&cli.IntFlag{Name: "health-recovery-successes", Value: d.HealthRecoverySuccesses, EnvVars: []string{"BRIDGE_HEALTH_RECOVERY_SUCCESSES"}},

		&cli.IntFlag{Name: "max-connections", Value: d.MaxConnections, EnvVars: []string{"BRIDGE_MAX_CONNECTIONS"}},
		&cli.IntFlag{Name: "send-buffer", Value: d.SendBuffer, EnvVars: []string{"BRIDGE_SEND_BUFFER"}},
		&cli.DurationFlag{Name: "ping-interval", Value: d.PingInterval, EnvVars: []string{"BRIDGE_WS_PING_INTERVAL"}},
		&cli.DurationFlag{Name: "pong-wait", Value: d.PongWait, EnvVars: []string{"BRIDGE_WS_PONG_WAIT"}},
		&cli.DurationFlag{Name: "write-timeout", Value: d.WriteTimeout, EnvVars: []string{"BRIDGE_WS_WRITE_TIMEOUT"}},
		&cli.Int64Flag{Name: "max-message-size", Value: d.MaxMessageSize, EnvVars: []string{"BRIDGE_WS_MAX_MESSAGE_SIZE"}},
		&cli.Float64Flag{Name: "message-rate", Value: d.MessageRate, EnvVars: []string{"BRIDGE_WS_MESSAGE_RATE"}},
		&cli.IntFlag{Name: "message-burst", Value: d.MessageBurst, EnvVars: []string{"BRIDGE_WS_MESSAGE_BURST"}},

		&cli.StringFlag{Name: "host", Value: d.HostKind, EnvVars: []string{"BRIDGE_HOST"}, Usage: "Host backend. One of [lua,rpc]."},
		&cli.StringFlag{Name: "script-dir", Value: d.ScriptDir, EnvVars: []string{"BRIDGE_SCRIPT_DIR"}, Usage: "Directory of <command>.lua scripts for the lua host."},
		&cli.StringFlag{Name: "host-addr", Value: d.HostAddr, EnvVars: []string{"BRIDGE_HOST_ADDR"}, Usage: "JSON-RPC address of the rpc host."},
		&cli.DurationFlag{Name: "host-rpc-timeout", Value: d.HostRPCTimeout, EnvVars: []string{"BRIDGE_HOST_RPC_TIMEOUT"}},

		&cli.StringFlag{Name: "log-level", Value: d.LogLevel, EnvVars: []string{"BRIDGE_LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-format", Value: d.LogFormat, EnvVars: []string{"BRIDGE_LOG_FORMAT"}, Usage: "One of [console,json]."},
	}
}

// FromCLI builds and validates a Config from parsed flags.
func FromCLI(c *cli.Context) (*Config, error) {
	cfg := &Config{
		ListenAddr:              c.String("listen-addr"),
		SharedSecret:            c.String("shared-secret"),
		BodyLimit:               c.String("body-limit"),
		ShutdownTimeout:         c.Duration("shutdown-timeout"),
		MinTimeout:              c.Duration("min-timeout"),
		DefaultTimeout:          c.Duration("default-timeout"),
		MaxTimeout:              c.Duration("max-timeout"),
		InputTimeout:            c.Duration("input-timeout"),
		MaxConcurrent:           c.Int("max-concurrent"),
		InputSweepInterval:      c.Duration("input-sweep-interval"),
		InputRetention:          c.Duration("input-retention"),
		HistorySize:             c.Int("history-size"),
		HistoryRetention:        c.Duration("history-retention"),
		HealthInterval:          c.Duration("health-interval"),
		HealthTimeout:           c.Duration("health-timeout"),
		HealthFailureThreshold:  c.Int("health-failure-threshold"),
		HealthRecoverySuccesses: c.Int("health-recovery-successes"),
		MaxConnections:          c.Int("max-connections"),
		SendBuffer:              c.Int("send-buffer"),
		PingInterval:            c.Duration("ping-interval"),
		PongWait:                c.Duration("pong-wait"),
		WriteTimeout:            c.Duration("write-timeout"),
		MaxMessageSize:          c.Int64("max-message-size"),
		MessageRate:             c.Float64("message-rate"),
		MessageBurst:            c.Int("message-burst"),
		HostKind:                c.String("host"),
		ScriptDir:               c.String("script-dir"),
		HostAddr:                c.String("host-addr"),
		HostRPCTimeout:          c.Duration("host-rpc-timeout"),
		LogLevel:                c.String("log-level"),
		LogFormat:               c.String("log-format"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
