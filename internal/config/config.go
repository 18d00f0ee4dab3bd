package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models brandline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Auth struct {
		JWTSecret      string `yaml:"jwt_secret" json:"-"`
		TrustedHeaders bool   `yaml:"trusted_headers" json:"trusted_headers"`
		APIKeyCache    struct {
			Size       int `yaml:"size" json:"size"`
			TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
		} `yaml:"api_key_cache" json:"api_key_cache"`
	} `yaml:"auth" json:"auth"`
	Assignment struct {
		Policy string `yaml:"policy" json:"policy"`
	} `yaml:"assignment" json:"assignment"`
	Admin struct {
		AllowForceStatus bool `yaml:"allow_force_status" json:"allow_force_status"`
	} `yaml:"admin" json:"admin"`
	Notify NotifyConfig `yaml:"notify" json:"notify"`
	Files  struct {
		Dir string `yaml:"dir" json:"dir"`
	} `yaml:"files" json:"files"`
}

type NotifyConfig struct {
	QueueSize     int             `yaml:"queue_size" json:"queue_size"`
	RatePerSecond float64         `yaml:"rate_per_second" json:"rate_per_second"`
	Webhooks      []WebhookConfig `yaml:"webhooks" json:"webhooks"`
	Telegram      TelegramConfig  `yaml:"telegram" json:"telegram"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Token   string `yaml:"token" json:"-"`
	ChatID  int64  `yaml:"chat_id" json:"chat_id,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	switch c.Assignment.Policy {
	case "least_loaded", "round_robin":
	default:
		return fmt.Errorf("assignment.policy must be least_loaded or round_robin, got %q", c.Assignment.Policy)
	}
	if c.Notify.QueueSize < 0 {
		return fmt.Errorf("notify.queue_size must be >= 0")
	}
	if c.Notify.RatePerSecond < 0 {
		return fmt.Errorf("notify.rate_per_second must be >= 0")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notify.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("notify.webhooks[%d].url must be http(s)", i)
		}
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.Token == "" {
			return fmt.Errorf("notify.telegram.token is required when telegram is enabled")
		}
	}
	if c.Auth.APIKeyCache.Size < 0 || c.Auth.APIKeyCache.TTLSeconds < 0 {
		return fmt.Errorf("auth.api_key_cache values must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "brandline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  # HS256 secret for bearer tokens; BRANDLINE_JWT_SECRET overrides it.
  jwt_secret: ""
  # Accept X-Actor-Id / X-Actor-Role from a trusted gateway.
  trusted_headers: false
  api_key_cache:
    size: 512
    ttl_seconds: 60

assignment:
  # least_loaded | round_robin
  policy: least_loaded

admin:
  # Lets admins set any status outside the transition table. Every use is audited.
  allow_force_status: false

notify:
  queue_size: 256
  rate_per_second: 5
  webhooks: []
  telegram:
    enabled: false
    token: ""
    chat_id: 0

files:
  dir: ""
`
