package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	minShutdownDelay    = time.Second
	maxShutdownDelay    = time.Hour
	minHeartbeatTimeout = 100 * time.Millisecond
	maxHeartbeatTimeout = time.Minute
	minTriggerTimeout   = time.Second
	maxTriggerTimeout   = 5 * time.Minute
	minPollInterval     = time.Millisecond
	maxPollInterval     = time.Second
)

var validMethods = map[string]bool{
	"systemd": true,
	"logind":  true,
	"exec":    true,
}

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateTimings(cfg, ve)
	validateLines(cfg, ve)
	validateShutdown(cfg, ve)
	validateHTTP(cfg, ve)
	validateLog(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func checkRange(ve *ValidationError, key string, d, lo, hi time.Duration) {
	if d < lo || d > hi {
		ve.Add("%s must be between %s and %s, got %s", key, lo, hi, d)
	}
}

func validateTimings(cfg *Config, ve *ValidationError) {
	checkRange(ve, "shutdown_delay", cfg.ShutdownDelay, minShutdownDelay, maxShutdownDelay)
	checkRange(ve, "heartbeat_timeout", cfg.HeartbeatTimeout, minHeartbeatTimeout, maxHeartbeatTimeout)
	checkRange(ve, "edge_poll_interval", cfg.EdgePollInterval, minPollInterval, maxPollInterval)
	checkRange(ve, "shutdown.trigger_timeout", cfg.Shutdown.TriggerTimeout, minTriggerTimeout, maxTriggerTimeout)
}

func validLevel(s string) bool {
	s = strings.ToLower(s)
	return s == LevelHigh || s == LevelLow
}

func validateLines(cfg *Config, ve *ValidationError) {
	lines := map[string]string{
		"power_fault.line": cfg.PowerFault.Line,
		"heartbeat.line":   cfg.Heartbeat.Line,
		"status.line":      cfg.Status.Line,
	}
	seen := make(map[string]string)
	for _, key := range []string{"power_fault.line", "heartbeat.line", "status.line"} {
		name := lines[key]
		if name == "" {
			ve.Add("%s must not be empty", key)
			continue
		}
		if other, dup := seen[name]; dup {
			ve.Add("%s and %s both use %s", other, key, name)
			continue
		}
		seen[name] = key
	}

	if !validLevel(cfg.PowerFault.ActiveLevel) {
		ve.Add("power_fault.active_level must be high or low, got %q", cfg.PowerFault.ActiveLevel)
	}
	if !validLevel(cfg.Status.AliveLevel) {
		ve.Add("status.alive_level must be high or low, got %q", cfg.Status.AliveLevel)
	}
}

func validateShutdown(cfg *Config, ve *ValidationError) {
	if !validMethods[cfg.Shutdown.Method] {
		ve.Add("shutdown.method must be one of systemd, logind, exec, got %q", cfg.Shutdown.Method)
	}
	if len(cfg.Shutdown.Command) > 0 && cfg.Shutdown.Method != "exec" {
		ve.Add("shutdown.command is only used with shutdown.method exec")
	}
}

func validateHTTP(cfg *Config, ve *ValidationError) {
	if !cfg.HTTP.Enabled {
		return
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		ve.Add("http.port must be 1-65535, got %d", cfg.HTTP.Port)
	}
}

func validateLog(cfg *Config, ve *ValidationError) {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		ve.Add("log.level %q is not a valid level", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "console", "json":
	default:
		ve.Add("log.format must be console or json, got %q", cfg.Log.Format)
	}
}
