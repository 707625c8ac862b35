package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.OVPNPath) == "" {
		errs = append(errs, ValidationError{
			Field:   "ovpn_path",
			Message: "OpenVPN profile path is required",
		})
	}

	validMethods := map[string]bool{"auto": true, "gui": true, "cli": true}
	if !validMethods[strings.ToLower(cfg.Method)] {
		errs = append(errs, ValidationError{
			Field:   "method",
			Message: fmt.Sprintf("must be one of: auto, gui, cli (got %q)", cfg.Method),
		})
	}

	if cfg.DeviceHost == "" {
		errs = append(errs, ValidationError{
			Field:   "device_host",
			Message: "must not be empty",
		})
	} else if strings.Contains(cfg.DeviceHost, "://") {
		errs = append(errs, ValidationError{
			Field:   "device_host",
			Message: "must be a host or IP address, not a URL",
		})
	}

	for _, p := range []struct {
		field string
		port  int
	}{
		{"http_port", cfg.HTTPPort},
		{"modbus_port", cfg.ModbusPort},
	} {
		if p.port < 1 || p.port > 65535 {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", p.port),
			})
		}
	}

	if cfg.UnitID < 0 || cfg.UnitID > 255 {
		errs = append(errs, ValidationError{
			Field:   "unit_id",
			Message: fmt.Sprintf("must be between 0 and 255 (got %d)", cfg.UnitID),
		})
	}

	// Durations that must be positive
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"connect_timeout", cfg.ConnectTimeout},
		{"status_probe_timeout", cfg.StatusProbeTimeout},
		{"device_timeout", cfg.DeviceTimeout},
		{"interval", cfg.Interval},
		{"stop_timeout", cfg.StopTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: "must be positive",
			})
		}
	}

	if cfg.SettleDelay < 0 || cfg.RestartDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "settle_delay",
			Message: "delays must not be negative",
		})
	}

	if cfg.MinAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "min_attempts",
			Message: "must be at least 1",
		})
	}

	if cfg.ReadRetries < 1 {
		errs = append(errs, ValidationError{
			Field:   "read_retries",
			Message: "must be at least 1",
		})
	}

	if cfg.Cycles < 0 {
		errs = append(errs, ValidationError{
			Field:   "cycles",
			Message: "must be 0 (until stopped) or positive",
		})
	}

	if cfg.EstimateFloor <= 0 {
		errs = append(errs, ValidationError{
			Field:   "estimate_floor",
			Message: "must be positive",
		})
	}
	if cfg.EstimateInitial < cfg.EstimateFloor {
		errs = append(errs, ValidationError{
			Field:   "estimate_initial",
			Message: "must be >= estimate_floor",
		})
	}

	for _, m := range cfg.Milestones {
		if m <= 0 {
			errs = append(errs, ValidationError{
				Field:   "milestones",
				Message: fmt.Sprintf("must be positive minutes (got %d)", m),
			})
			break
		}
	}

	if cfg.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "listen_addr",
				Message: err.Error(),
			})
		}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Normalize lowercases enumerations and sorts milestones ascending.
func Normalize(cfg *Config) {
	cfg.Method = strings.ToLower(strings.TrimSpace(cfg.Method))
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	sort.Ints(cfg.Milestones)
}

// ApplyCheckMode modifies config for a single diagnostic poll.
func ApplyCheckMode(cfg *Config) {
	cfg.Cycles = 1
	cfg.AlignToMinute = false
	cfg.Verbose = true
}
