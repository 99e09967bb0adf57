// Package config loads the cubeos-upsmon configuration from YAML with
// UPSMON_* environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cubeos-upsmon/internal/monitor"
)

const (
	LevelHigh = "high"
	LevelLow  = "low"
)

// Config is the full service configuration.
type Config struct {
	ShutdownDelay    time.Duration `yaml:"shutdown_delay"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	EdgePollInterval time.Duration `yaml:"edge_poll_interval"`

	PowerFault PowerFaultConfig `yaml:"power_fault"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Status     StatusConfig     `yaml:"status"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

type PowerFaultConfig struct {
	Line        string `yaml:"line"`
	ActiveLevel string `yaml:"active_level"` // level that means AC lost
}

type HeartbeatConfig struct {
	Line string `yaml:"line"`
}

type StatusConfig struct {
	Line       string `yaml:"line"`
	AliveLevel string `yaml:"alive_level"` // level driven while running
}

type ShutdownConfig struct {
	Method         string        `yaml:"method"` // systemd, logind, exec
	TriggerTimeout time.Duration `yaml:"trigger_timeout"`
	Command        []string      `yaml:"command"` // exec only
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// Defaults returns the stock configuration for an X728-style HAT: AC-lost
// on GPIO6 (HIGH), heartbeat on GPIO5, boot-OK status on GPIO12.
func Defaults() *Config {
	return &Config{
		ShutdownDelay:    monitor.DefaultShutdownDelay,
		HeartbeatTimeout: monitor.DefaultHeartbeatTimeout,
		EdgePollInterval: 100 * time.Millisecond,
		PowerFault: PowerFaultConfig{
			Line:        "GPIO6",
			ActiveLevel: LevelHigh,
		},
		Heartbeat: HeartbeatConfig{
			Line: "GPIO5",
		},
		Status: StatusConfig{
			Line:       "GPIO12",
			AliveLevel: LevelLow,
		},
		Shutdown: ShutdownConfig{
			Method:         "systemd",
			TriggerTimeout: monitor.DefaultTriggerTimeout,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    6010,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error. The returned
// warnings list environment values that were ignored.
func Load(path string) (*Config, []string, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	warnings := ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// ApplyEnvOverrides overlays UPSMON_* variables on cfg. Values that do not
// parse or fall outside their range are skipped and reported.
func ApplyEnvOverrides(cfg *Config) []string {
	var warnings []string
	warn := func(key, v, why string) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %s", key, v, why))
	}

	duration := func(key string, dst *time.Duration, lo, hi time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			warn(key, v, err.Error())
			return
		}
		if d < lo || d > hi {
			warn(key, v, fmt.Sprintf("must be between %s and %s", lo, hi))
			return
		}
		*dst = d
	}
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	level := func(key string, dst *string) {
		v := strings.ToLower(os.Getenv(key))
		if v == "" {
			return
		}
		if v != LevelHigh && v != LevelLow {
			warn(key, v, "must be high or low")
			return
		}
		*dst = v
	}

	duration("UPSMON_SHUTDOWN_DELAY", &cfg.ShutdownDelay, minShutdownDelay, maxShutdownDelay)
	duration("UPSMON_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout, minHeartbeatTimeout, maxHeartbeatTimeout)
	duration("UPSMON_EDGE_POLL_INTERVAL", &cfg.EdgePollInterval, minPollInterval, maxPollInterval)
	duration("UPSMON_SHUTDOWN_TRIGGER_TIMEOUT", &cfg.Shutdown.TriggerTimeout, minTriggerTimeout, maxTriggerTimeout)

	str("UPSMON_POWER_FAULT_LINE", &cfg.PowerFault.Line)
	level("UPSMON_POWER_FAULT_ACTIVE_LEVEL", &cfg.PowerFault.ActiveLevel)
	str("UPSMON_HEARTBEAT_LINE", &cfg.Heartbeat.Line)
	str("UPSMON_STATUS_LINE", &cfg.Status.Line)
	level("UPSMON_STATUS_ALIVE_LEVEL", &cfg.Status.AliveLevel)

	str("UPSMON_SHUTDOWN_METHOD", &cfg.Shutdown.Method)
	if v := os.Getenv("UPSMON_SHUTDOWN_COMMAND"); v != "" {
		cfg.Shutdown.Command = strings.Fields(v)
	}

	str("UPSMON_HTTP_HOST", &cfg.HTTP.Host)
	if v := os.Getenv("UPSMON_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			cfg.HTTP.Port = port
		} else {
			warn("UPSMON_HTTP_PORT", v, "must be a port number")
		}
	}
	if v := os.Getenv("UPSMON_HTTP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HTTP.Enabled = b
		} else {
			warn("UPSMON_HTTP_ENABLED", v, "must be a boolean")
		}
	}

	str("UPSMON_LOG_LEVEL", &cfg.Log.Level)
	str("UPSMON_LOG_FORMAT", &cfg.Log.Format)
	str("UPSMON_LOG_OUTPUT", &cfg.Log.Output)

	return warnings
}

// parseDuration accepts a Go duration ("90s") or whole seconds ("90").
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("not a duration")
	}
	return time.Duration(secs) * time.Second, nil
}

// Monitor returns the controller settings described by cfg.
func (c *Config) Monitor() monitor.Config {
	return monitor.Config{
		ShutdownDelay:    c.ShutdownDelay,
		HeartbeatTimeout: c.HeartbeatTimeout,
		TriggerTimeout:   c.Shutdown.TriggerTimeout,
		PowerFaultActive: monitor.Level(strings.EqualFold(c.PowerFault.ActiveLevel, LevelHigh)),
		StatusAlive:      monitor.Level(strings.EqualFold(c.Status.AliveLevel, LevelHigh)),
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}
