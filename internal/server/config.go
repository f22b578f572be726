// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Configuration errors.
var (
	ErrInvalidPort   = errors.New("invalid port")
	ErrInvalidPolicy = errors.New("invalid sanitize policy")
)

// HTTPRateLimitConfig defines the per-IP request limit applied to HTTP routes.
// A zero Requests value disables the limit.
type HTTPRateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port              string              `yaml:"port"`
	AllowedOrigins    []string            `yaml:"allowed_origins"`
	EnableCompression bool                `yaml:"enable_compression"`
	TrustProxy        bool                `yaml:"trust_proxy"`
	MaxFrameSize      int64               `yaml:"max_frame_size"`
	PingInterval      time.Duration       `yaml:"ping_interval"`
	PongWait          time.Duration       `yaml:"pong_wait"`
	WriteWait         time.Duration       `yaml:"write_wait"`
	SendBuffer        int                 `yaml:"send_buffer"`
	StaticDir         string              `yaml:"static_dir"`
	LogLevel          string              `yaml:"log_level"`
	HTTPRateLimit     HTTPRateLimitConfig `yaml:"http_rate_limit"`
	Relay             relay.Policy        `yaml:"relay"`
}

func defaultConfig() Config {
	return Config{
		Port: ":3000",
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		MaxFrameSize: 4096,
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		SendBuffer:   256,
		StaticDir:    "public",
		LogLevel:     "info",
		HTTPRateLimit: HTTPRateLimitConfig{
			Requests: 100,
			Window:   15 * time.Minute,
		},
		Relay: relay.DefaultPolicy(),
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if v := os.Getenv("ENABLE_COMPRESSION"); v != "" {
		cfg.EnableCompression = parseBool(v, cfg.EnableCompression)
	}

	if v := os.Getenv("TRUST_PROXY"); v != "" {
		cfg.TrustProxy = parseBool(v, cfg.TrustProxy)
	}

	if v := os.Getenv("MAX_FRAME_SIZE"); v != "" {
		cfg.MaxFrameSize = parseMaxFrameSize(v, cfg.MaxFrameSize)
	}

	if v := os.Getenv("PING_INTERVAL"); v != "" {
		cfg.PingInterval = parseDuration(v, cfg.PingInterval)
	}

	if v := os.Getenv("PONG_WAIT"); v != "" {
		cfg.PongWait = parseDuration(v, cfg.PongWait)
	}

	if v, ok := os.LookupEnv("STATIC_DIR"); ok {
		cfg.StaticDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v, ok := os.LookupEnv("HTTP_RATE_LIMIT_REQUESTS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.HTTPRateLimit.Requests = n
		}
	}

	if v := os.Getenv("HTTP_RATE_LIMIT_WINDOW"); v != "" {
		cfg.HTTPRateLimit.Window = parseDuration(v, cfg.HTTPRateLimit.Window)
	}

	applyRelayEnv(&cfg.Relay)
}

func applyRelayEnv(p *relay.Policy) {
	if v := os.Getenv("SANITIZE"); v != "" {
		p.Sanitize = parseBool(v, p.Sanitize)
	}

	if v := os.Getenv("SANITIZE_POLICY"); v != "" {
		p.SanitizePolicy = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("MAX_MESSAGE_LENGTH"); v != "" {
		p.MaxMessageLength = parseIntValue(v, p.MaxMessageLength)
	}

	if v := os.Getenv("MAX_NAME_LENGTH"); v != "" {
		p.MaxNameLength = parseIntValue(v, p.MaxNameLength)
	}

	if v := os.Getenv("MIN_MESSAGE_INTERVAL"); v != "" {
		p.MinInterval = parseDuration(v, p.MinInterval)
	}

	if v := os.Getenv("MESSAGE_CEILING"); v != "" {
		p.MessageCeiling = parseIntValue(v, p.MessageCeiling)
	}

	if v := os.Getenv("CEILING_WINDOW"); v != "" {
		p.CeilingWindow = parseDuration(v, p.CeilingWindow)
	}

	if v := os.Getenv("NOTIFY_THROTTLED"); v != "" {
		p.NotifyThrottled = parseBool(v, p.NotifyThrottled)
	}

	if v := os.Getenv("REJECT_UNREGISTERED"); v != "" {
		p.RejectUnregistered = parseBool(v, p.RejectUnregistered)
	}

	if v := os.Getenv("TIME_LAYOUT"); v != "" {
		p.TimeLayout = v
	}
}

// Validate fills zero values with defaults and rejects settings that cannot
// be repaired.
func (c *Config) Validate() error {
	def := defaultConfig()

	port, err := normalizePort(c.Port)
	if err != nil {
		return err
	}
	c.Port = port

	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = (c.PongWait * 9) / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.HTTPRateLimit.Requests < 0 {
		c.HTTPRateLimit.Requests = 0
	}
	if c.HTTPRateLimit.Requests > 0 && c.HTTPRateLimit.Window <= 0 {
		c.HTTPRateLimit.Window = def.HTTPRateLimit.Window
	}

	p := &c.Relay
	switch p.SanitizePolicy {
	case "":
		p.SanitizePolicy = relay.PolicyEscape
	case relay.PolicyEscape, relay.PolicyStrip:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, p.SanitizePolicy)
	}
	if p.MaxMessageLength <= 0 {
		p.MaxMessageLength = def.Relay.MaxMessageLength
	}
	if p.MaxNameLength <= 0 {
		p.MaxNameLength = def.Relay.MaxNameLength
	}
	if p.MinInterval < 0 {
		p.MinInterval = 0
	}
	if p.MessageCeiling < 0 {
		p.MessageCeiling = 0
	}
	if p.CeilingWindow <= 0 {
		p.CeilingWindow = def.Relay.CeilingWindow
	}
	if p.TimeLayout == "" {
		p.TimeLayout = def.Relay.TimeLayout
	}
	return nil
}

// normalizePort accepts "3000", ":3000" or "host:3000".
func normalizePort(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return defaultConfig().Port, nil
	}
	if !strings.Contains(port, ":") {
		port = ":" + port
	}
	p := port[strings.LastIndex(port, ":")+1:]
	n, err := strconv.Atoi(p)
	if err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPort, port)
	}
	return port, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxFrameSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("1500ms", "2m") and, like the
// older configuration format, bare integers meaning seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
