package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeos-upsmon/internal/monitor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upsmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))

	mc := cfg.Monitor()
	assert.Equal(t, 60*time.Second, mc.ShutdownDelay)
	assert.Equal(t, 2*time.Second, mc.HeartbeatTimeout)
	assert.Equal(t, monitor.High, mc.PowerFaultActive)
	assert.Equal(t, monitor.Low, mc.StatusAlive)
	assert.Equal(t, "127.0.0.1:6010", cfg.Addr())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, warnings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
shutdown_delay: 90s
heartbeat_timeout: 1500ms
power_fault:
  line: GPIO17
  active_level: low
heartbeat:
  line: GPIO27
status:
  line: GPIO22
  alive_level: high
shutdown:
  method: exec
  trigger_timeout: 10s
  command: ["/sbin/poweroff", "-f"]
http:
  enabled: false
log:
  level: debug
  format: json
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.ShutdownDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.HeartbeatTimeout)
	assert.Equal(t, "GPIO17", cfg.PowerFault.Line)
	assert.Equal(t, "GPIO27", cfg.Heartbeat.Line)
	assert.Equal(t, "GPIO22", cfg.Status.Line)
	assert.Equal(t, "exec", cfg.Shutdown.Method)
	assert.Equal(t, []string{"/sbin/poweroff", "-f"}, cfg.Shutdown.Command)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)

	mc := cfg.Monitor()
	assert.Equal(t, monitor.Low, mc.PowerFaultActive)
	assert.Equal(t, monitor.High, mc.StatusAlive)
	assert.Equal(t, 10*time.Second, mc.TriggerTimeout)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.EdgePollInterval)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "shutdown_delay: [not, a, duration]\n")
	_, _, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPSMON_SHUTDOWN_DELAY", "120")
	t.Setenv("UPSMON_HEARTBEAT_TIMEOUT", "3s")
	t.Setenv("UPSMON_POWER_FAULT_ACTIVE_LEVEL", "LOW")
	t.Setenv("UPSMON_SHUTDOWN_METHOD", "logind")
	t.Setenv("UPSMON_HTTP_PORT", "8080")
	t.Setenv("UPSMON_HTTP_ENABLED", "false")
	t.Setenv("UPSMON_SHUTDOWN_COMMAND", "")

	cfg, warnings, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, 2*time.Minute, cfg.ShutdownDelay)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, LevelLow, cfg.PowerFault.ActiveLevel)
	assert.Equal(t, "logind", cfg.Shutdown.Method)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.False(t, cfg.HTTP.Enabled)
}

func TestEnvOverridesOverFile(t *testing.T) {
	path := writeConfig(t, "shutdown_delay: 30s\n")
	t.Setenv("UPSMON_SHUTDOWN_DELAY", "45s")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.ShutdownDelay)
}

func TestInvalidEnvValuesAreIgnored(t *testing.T) {
	t.Setenv("UPSMON_SHUTDOWN_DELAY", "soon")
	t.Setenv("UPSMON_HEARTBEAT_TIMEOUT", "10ms")
	t.Setenv("UPSMON_STATUS_ALIVE_LEVEL", "sideways")
	t.Setenv("UPSMON_HTTP_PORT", "70000")
	t.Setenv("UPSMON_HTTP_ENABLED", "maybe")

	cfg, warnings, err := Load("")
	require.NoError(t, err)
	assert.Len(t, warnings, 5)

	def := Defaults()
	assert.Equal(t, def.ShutdownDelay, cfg.ShutdownDelay)
	assert.Equal(t, def.HeartbeatTimeout, cfg.HeartbeatTimeout)
	assert.Equal(t, def.Status.AliveLevel, cfg.Status.AliveLevel)
	assert.Equal(t, def.HTTP.Port, cfg.HTTP.Port)
	assert.Equal(t, def.HTTP.Enabled, cfg.HTTP.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ShutdownDelayTooShort", func(c *Config) { c.ShutdownDelay = 0 }, "shutdown_delay"},
		{"HeartbeatTimeoutTooLong", func(c *Config) { c.HeartbeatTimeout = time.Hour }, "heartbeat_timeout"},
		{"EmptyLine", func(c *Config) { c.Heartbeat.Line = "" }, "heartbeat.line must not be empty"},
		{"SharedLine", func(c *Config) { c.Status.Line = c.PowerFault.Line }, "both use GPIO6"},
		{"BadFaultLevel", func(c *Config) { c.PowerFault.ActiveLevel = "up" }, "power_fault.active_level"},
		{"BadAliveLevel", func(c *Config) { c.Status.AliveLevel = "" }, "status.alive_level"},
		{"UnknownMethod", func(c *Config) { c.Shutdown.Method = "halt" }, "shutdown.method"},
		{"CommandWithoutExec", func(c *Config) { c.Shutdown.Command = []string{"poweroff"} }, "shutdown.command"},
		{"BadPort", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"BadLogLevel", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"BadLogFormat", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.ShutdownDelay = 0
	cfg.Shutdown.Method = "halt"
	cfg.Log.Format = "xml"

	var ve *ValidationError
	require.ErrorAs(t, Validate(cfg), &ve)
	assert.Len(t, ve.Errors, 3)
}

func TestDisabledHTTPSkipsPortCheck(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.Enabled = false
	cfg.HTTP.Port = 0
	assert.NoError(t, Validate(cfg))
}
