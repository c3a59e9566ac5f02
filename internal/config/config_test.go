package config

import (
	"flag"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestClampTimeout(t *testing.T) {
	cfg := Default()
	cfg.MinTimeout = 100 * time.Millisecond
	cfg.DefaultTimeout = time.Second
	cfg.MaxTimeout = 5 * time.Second

	assert.Equal(t, time.Second, cfg.ClampTimeout(0))
	assert.Equal(t, time.Second, cfg.ClampTimeout(-20))
	assert.Equal(t, 100*time.Millisecond, cfg.ClampTimeout(1))
	assert.Equal(t, 2500*time.Millisecond, cfg.ClampTimeout(2500))
	assert.Equal(t, 5*time.Second, cfg.ClampTimeout(60000))
	assert.Equal(t, 5*time.Second, cfg.ClampTimeout(5000))
	assert.Equal(t, 5*time.Second, cfg.ClampTimeout(9223372036854775), "values that overflow a Duration clamp to the max")
	assert.Equal(t, 5*time.Second, cfg.ClampTimeout(math.MaxInt64))
}

func TestInputDeadline(t *testing.T) {
	cfg := Default()
	now := time.Unix(1000, 0)
	execDeadline := now.Add(5 * time.Second)

	assert.Equal(t, execDeadline, cfg.InputDeadline(now, execDeadline))

	cfg.InputTimeout = time.Second
	assert.Equal(t, now.Add(time.Second), cfg.InputDeadline(now, execDeadline))

	cfg.InputTimeout = time.Minute
	assert.Equal(t, execDeadline, cfg.InputDeadline(now, execDeadline))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg := Default()
	cfg.MinTimeout = time.Hour
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PingInterval = cfg.PongWait
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.HostKind = "docker"
	assert.Error(t, cfg.Validate())
}

func TestFromCLI(t *testing.T) {
	set := flag.NewFlagSet("bridge", flag.ContinueOnError)
	for _, f := range Flags() {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse([]string{"--max-concurrent", "2", "--health-failure-threshold", "5", "--host", "rpc"}))

	cfg, err := FromCLI(cli.NewContext(cli.NewApp(), set, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, 5, cfg.HealthFailureThreshold)
	assert.Equal(t, HostRPC, cfg.HostKind)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.DefaultTimeout)
}

func TestFromCLIEnv(t *testing.T) {
	t.Setenv("BRIDGE_MAX_CONNECTIONS", "3")
	t.Setenv("BRIDGE_SHARED_SECRET", "s3cret")

	set := flag.NewFlagSet("bridge", flag.ContinueOnError)
	for _, f := range Flags() {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(nil))

	cfg, err := FromCLI(cli.NewContext(cli.NewApp(), set, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxConnections)
	assert.Equal(t, "s3cret", cfg.SharedSecret)
}
