// Package config handles configuration loading, validation, and persistence
// for rconsole.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultRCONPort   = 27015
	DefaultTimeoutMS  = 5000
	DefaultAPIAddr    = "127.0.0.1:5080"
	DefaultMQTTPort   = 8883

	// EnvLogLevel overrides logging.level when set.
	EnvLogLevel = "RCONSOLE_LOG_LEVEL"
)

// ErrUnknownServer is returned when a server profile does not exist.
var ErrUnknownServer = errors.New("unknown server")

// Format is a configuration file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the encoding from the file extension. Unknown extensions
// are treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Config is the root configuration structure for rconsole.
type Config struct {
	mu   sync.RWMutex
	path string

	Servers   map[string]ServerProfile `json:"servers" yaml:"servers" toml:"servers"`
	API       APIConfig                `json:"api" yaml:"api" toml:"api"`
	MQTT      MQTTConfig               `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	History   HistoryConfig            `json:"history" yaml:"history" toml:"history"`
	Health    HealthConfig             `json:"health" yaml:"health" toml:"health"`
	Schedules []ScheduleConfig         `json:"schedules" yaml:"schedules" toml:"schedules"`
	Logging   LoggingConfig            `json:"logging" yaml:"logging" toml:"logging"`
}

// ServerProfile describes one RCON endpoint.
type ServerProfile struct {
	Host        string `json:"host" yaml:"host" toml:"host"`
	Port        int    `json:"port" yaml:"port" toml:"port"`
	Password    string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	PasswordEnv string `json:"password_env,omitempty" yaml:"password_env,omitempty" toml:"password_env,omitempty"`
	TimeoutMS   int    `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`

	// IgnoreLeadingPacket defaults to true (Source servers) when unset.
	IgnoreLeadingPacket *bool `json:"ignore_leading_packet,omitempty" yaml:"ignore_leading_packet,omitempty" toml:"ignore_leading_packet,omitempty"`
	Segmented           bool  `json:"segmented" yaml:"segmented" toml:"segmented"`
	PreSentinelDelayMS  int   `json:"pre_sentinel_delay_ms" yaml:"pre_sentinel_delay_ms" toml:"pre_sentinel_delay_ms"`
}

// Address returns host:port.
func (p ServerProfile) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Timeout returns the readiness timeout for the profile.
func (p ServerProfile) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// PreSentinelDelay returns the delay slept before a segmented sentinel.
func (p ServerProfile) PreSentinelDelay() time.Duration {
	return time.Duration(p.PreSentinelDelayMS) * time.Millisecond
}

// SkipLeadingPacket reports whether the handshake discards one packet
// before the auth response.
func (p ServerProfile) SkipLeadingPacket() bool {
	return p.IgnoreLeadingPacket == nil || *p.IgnoreLeadingPacket
}

// ResolvedPassword returns the password, preferring the environment
// variable named by PasswordEnv when it is set and non-empty.
func (p ServerProfile) ResolvedPassword() string {
	if p.PasswordEnv != "" {
		if v := os.Getenv(p.PasswordEnv); v != "" {
			return v
		}
	}
	return p.Password
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	ListenAddr     string   `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"`
	Token          string   `json:"token" yaml:"token" toml:"token"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	BrokerURL   string `json:"broker_url" yaml:"broker_url" toml:"broker_url"`
	Port        int    `json:"port" yaml:"port" toml:"port"`
	UseTLS      bool   `json:"use_tls" yaml:"use_tls" toml:"use_tls"`
	ClientID    string `json:"client_id" yaml:"client_id" toml:"client_id"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix" toml:"topic_prefix"`
}

// HistoryConfig controls the command history database.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path    string `json:"path" yaml:"path" toml:"path"`
}

// HealthConfig controls periodic login probes. Zero disables them.
type HealthConfig struct {
	IntervalSec int `json:"interval_sec" yaml:"interval_sec" toml:"interval_sec"`
}

// Interval returns the probe period.
func (h HealthConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSec) * time.Second
}

// ScheduleConfig is a command run periodically against one server.
type ScheduleConfig struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Server      string `json:"server" yaml:"server" toml:"server"`
	Command     string `json:"command" yaml:"command" toml:"command"`
	IntervalSec int    `json:"interval_sec" yaml:"interval_sec" toml:"interval_sec"`
	Segmented   bool   `json:"segmented" yaml:"segmented" toml:"segmented"`
}

// Interval returns the schedule period.
func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level"`
	Directory  string `json:"directory" yaml:"directory" toml:"directory"`
	Console    bool   `json:"console" yaml:"console" toml:"console"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults and one
// example server profile.
func DefaultConfig() *Config {
	return &Config{
		Servers: map[string]ServerProfile{
			"local": {
				Host:      "127.0.0.1",
				Port:      DefaultRCONPort,
				TimeoutMS: DefaultTimeoutMS,
			},
		},
		API: APIConfig{
			Enabled:        false,
			ListenAddr:     DefaultAPIAddr,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        DefaultMQTTPort,
			UseTLS:      true,
			ClientID:    "rconsole",
			TopicPrefix: "rconsole",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join("data", "history.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			Console:    true,
			MaxBackups: 5,
		},
	}
}

// LoadEnv loads a dotenv file into the process environment. A missing file
// is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("environment file loaded")
	return nil
}

// Load reads configuration from path. The encoding is chosen by extension.
// When the file does not exist a default configuration is written there.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(DefaultConfigDir, DefaultConfigFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = path
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.path = path
	cfg.applyEnv()

	log.Info().Str("path", path).Int("servers", len(cfg.Servers)).Msg("configuration loaded")
	return cfg, nil
}

// Parse decodes data over the defaults. The example server profile is
// dropped so only servers from data remain.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Servers = nil

	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	case FormatTOML:
		_, err = toml.Decode(string(data), cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerProfile)
	}
	for name, p := range cfg.Servers {
		if p.Port == 0 {
			p.Port = DefaultRCONPort
		}
		if p.TimeoutMS == 0 {
			p.TimeoutMS = DefaultTimeoutMS
		}
		cfg.Servers[name] = p
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		c.Logging.Level = lvl
	}
}

// Save writes the current configuration to disk in the format implied by
// its path.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.encode(FormatFor(c.path))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Passwords may live in this file.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

func (c *Config) encode(format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(c)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(c, "", "  ")
	}
}

// Server returns the named profile.
func (c *Config) Server(name string) (ServerProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.Servers[name]
	if !ok {
		return ServerProfile{}, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	return p, nil
}

// ServerNames returns profile names in sorted order.
func (c *Config) ServerNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetServer adds or replaces a profile.
func (c *Config) SetServer(name string, p ServerProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Servers == nil {
		c.Servers = make(map[string]ServerProfile)
	}
	c.Servers[name] = p
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
