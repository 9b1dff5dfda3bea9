package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 3000
	DefaultPath            = "/webhook"
	DefaultTimestampHeader = "X-SkyWay-Request-Timestamp"
	DefaultSignatureHeader = "X-SkyWay-Signature"
	DefaultSecretEnv       = "HOOK_PULSE_SIGNING_SECRET"
	DefaultTolerance       = 60 * time.Second
	DefaultMaxBodySize     = 1024 * 1024
	DefaultLogLevel        = "INFO"
)

var ErrMissingSecret = errors.New("signing secret is not configured")

// Config is loaded once at startup and treated as read-only afterwards.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Webhook WebhookConfig `yaml:"webhook"`
	Log     LogConfig     `yaml:"log"`
}

type ListenConfig struct {
	Port int `yaml:"port"`
}

type WebhookConfig struct {
	Path            string        `yaml:"path"`
	TimestampHeader string        `yaml:"timestamp_header"`
	SignatureHeader string        `yaml:"signature_header"`
	Tolerance       time.Duration `yaml:"tolerance"`
	MaxBodySize     ByteSize      `yaml:"max_body_size"`

	// Secret may be set inline for local testing; SecretEnv names the
	// environment variable consulted when it is empty.
	Secret    string `yaml:"secret"`
	SecretEnv string `yaml:"secret_env"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ByteSize accepts plain byte counts or KB/MB/GB suffixed values in YAML.
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	n, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("max_body_size %q: %w", node.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

// Default returns a Config with every field set except the secret.
func Default() Config {
	return Config{
		Listen: ListenConfig{Port: DefaultPort},
		Webhook: WebhookConfig{
			Path:            DefaultPath,
			TimestampHeader: DefaultTimestampHeader,
			SignatureHeader: DefaultSignatureHeader,
			Tolerance:       DefaultTolerance,
			MaxBodySize:     DefaultMaxBodySize,
			SecretEnv:       DefaultSecretEnv,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// Load reads the optional YAML file at path on top of the defaults, then
// applies environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if c.Webhook.SecretEnv == "" {
		c.Webhook.SecretEnv = DefaultSecretEnv
	}
	if c.Webhook.Secret == "" {
		if v, ok := lookup(c.Webhook.SecretEnv); ok {
			c.Webhook.Secret = v
		}
	}
	if v, ok := lookup("HOOK_PULSE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HOOK_PULSE_PORT: %w", err)
		}
		c.Listen.Port = port
	}
	if v, ok := lookup("HOOK_PULSE_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Webhook.Secret) == "" {
		return fmt.Errorf("%w: set webhook.secret or $%s", ErrMissingSecret, c.Webhook.SecretEnv)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path %q must start with /", c.Webhook.Path)
	}
	if c.Webhook.TimestampHeader == "" || c.Webhook.SignatureHeader == "" {
		return fmt.Errorf("webhook timestamp and signature headers are required")
	}
	if c.Webhook.Tolerance <= 0 {
		return fmt.Errorf("webhook.tolerance must be positive")
	}
	if c.Webhook.MaxBodySize <= 0 {
		return fmt.Errorf("webhook.max_body_size must be positive")
	}
	return nil
}

// ParseByteSize parses sizes like "1MB", "512KB" or "2048576".
func ParseByteSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
