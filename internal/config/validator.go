package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Err returns the first error, or nil when the result is valid.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	return r.Errors[0]
}

// Validate performs validation of the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if len(cfg.Servers) == 0 {
		result.AddWarning("servers", "no server profiles configured")
	}
	for _, name := range cfg.ServerNames() {
		validateServer(name, cfg.Servers[name], result)
	}

	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateSchedules(cfg, result)

	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		result.AddError("history.path", "history path is required when history is enabled")
	}
	if cfg.Health.IntervalSec < 0 {
		result.AddError("health.interval_sec", "interval cannot be negative")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err != nil {
		result.AddError("logging.level", fmt.Sprintf("unknown log level %q", cfg.Logging.Level))
	}

	return result
}

func validateServer(name string, p ServerProfile, result *ValidationResult) {
	field := "servers." + name

	if strings.TrimSpace(p.Host) == "" {
		result.AddError(field+".host", "host is required")
	}
	validatePort(p.Port, field+".port", result)

	if p.TimeoutMS <= 0 {
		result.AddError(field+".timeout_ms", "timeout must be positive")
	} else if p.TimeoutMS < 100 {
		result.AddWarning(field+".timeout_ms",
			fmt.Sprintf("timeout of %dms is likely too short for a remote server", p.TimeoutMS))
	}

	if p.Password == "" && p.PasswordEnv == "" {
		result.AddWarning(field+".password", "no password or password_env set")
	}
	if p.PreSentinelDelayMS < 0 {
		result.AddError(field+".pre_sentinel_delay_ms", "delay cannot be negative")
	}
	if p.PreSentinelDelayMS > 0 && !p.Segmented {
		result.AddWarning(field+".pre_sentinel_delay_ms", "delay only applies to segmented commands")
	}
}

func validateAPI(api *APIConfig, result *ValidationResult) {
	if !api.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(api.ListenAddr); err != nil {
		result.AddError("api.listen_addr", fmt.Sprintf("invalid listen address: %v", err))
	}
	if strings.TrimSpace(api.Token) == "" {
		result.AddError("api.token", "token is required when the API is enabled")
	}
	if api.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddWarning("mqtt.topic_prefix", "empty topic prefix, publishing at the broker root")
	}
}

func validateSchedules(cfg *Config, result *ValidationResult) {
	seen := make(map[string]bool, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)

		if s.Name == "" {
			result.AddError(field+".name", "schedule name is required")
		} else if seen[s.Name] {
			result.AddError(field+".name", fmt.Sprintf("duplicate schedule name %q", s.Name))
		}
		seen[s.Name] = true

		if _, ok := cfg.Servers[s.Server]; !ok {
			result.AddError(field+".server", fmt.Sprintf("unknown server %q", s.Server))
		}
		if strings.TrimSpace(s.Command) == "" {
			result.AddError(field+".command", "command is required")
		}
		if s.IntervalSec < 1 {
			result.AddError(field+".interval_sec", "interval must be at least 1 second")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}
