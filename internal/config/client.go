package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quickmoney/lendchat/internal/live"
)

// Client configures the terminal chat client.
type Client struct {
	Server string `yaml:"server"` // base URL, e.g. http://localhost:8080
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`

	Live LiveConfig `yaml:"live"`
}

// LiveConfig bounds the push channel's reconnect policy.
type LiveConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`
	Jitter      float64       `yaml:"jitter"` // negative disables

	BaseDelayRaw string `yaml:"base_delay"`
	MaxDelayRaw  string `yaml:"max_delay"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadClient reads path when it is non-empty, then applies the
// LENDCHAT_SERVER, LENDCHAT_TOKEN and LENDCHAT_USER overrides.
// ${VAR} references in the file are expanded from the environment.
func LoadClient(path string) (*Client, error) {
	cfg := &Client{
		Server: "http://localhost:8080",
		Live:   LiveConfig{Jitter: live.DefaultJitter},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
			return os.Getenv(envPattern.FindStringSubmatch(match)[1])
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("LENDCHAT_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("LENDCHAT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("LENDCHAT_USER"); v != "" {
		cfg.UserID = v
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Client) parseDurations() error {
	var err error
	if c.Live.BaseDelayRaw != "" {
		if c.Live.BaseDelay, err = time.ParseDuration(c.Live.BaseDelayRaw); err != nil {
			return fmt.Errorf("parsing base_delay %q: %w", c.Live.BaseDelayRaw, err)
		}
	}
	if c.Live.MaxDelayRaw != "" {
		if c.Live.MaxDelay, err = time.ParseDuration(c.Live.MaxDelayRaw); err != nil {
			return fmt.Errorf("parsing max_delay %q: %w", c.Live.MaxDelayRaw, err)
		}
	}
	return nil
}

// Validate checks the fields the client cannot start without.
func (c *Client) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return fmt.Errorf("server must be an http or https URL, got %q", c.Server)
	}
	if c.Token == "" {
		return fmt.Errorf("token is required (set LENDCHAT_TOKEN)")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required (set LENDCHAT_USER)")
	}
	if strings.Contains(c.UserID, "_") {
		return fmt.Errorf("user_id must not contain '_'")
	}
	return nil
}

// WebSocketURL derives the push endpoint from the server URL.
func (c *Client) WebSocketURL() string {
	base := strings.TrimRight(c.Server, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
}
