package tabsync

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/tabsync/alert"
	"github.com/MrEthical07/tabsync/relay"
)

// Config is the full client configuration. Start from DefaultConfig and
// override what you need.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Session    SessionConfig    `yaml:"session"`
	Navigation NavigationConfig `yaml:"navigation"`
	Login      LoginConfig      `yaml:"login"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Alert      AlertConfig      `yaml:"alert"`
}

/*
====================================
RELAY CONFIG
====================================
*/

// RelayConfig controls cross-context replication.
type RelayConfig struct {
	// RedisPrefix namespaces keys and the pub/sub channel of the Redis backend.
	RedisPrefix string `yaml:"redis_prefix"`
	// HandshakeGrace bounds the wait for a snapshot from another context.
	HandshakeGrace time.Duration `yaml:"handshake_grace"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the login status stream.
type SessionConfig struct {
	// StatusBuffer is the channel capacity of each LoginStatusChanged subscriber.
	StatusBuffer int `yaml:"status_buffer"`
	// DefaultRememberMe applies when neither the login request nor storage
	// says whether to remember the user.
	DefaultRememberMe bool `yaml:"default_remember_me"`
}

// NavigationConfig names the routes used after login and logout.
type NavigationConfig struct {
	HomeURL  string `yaml:"home_url"`
	LoginURL string `yaml:"login_url"`
}

// LoginConfig describes the token endpoint. When BaseURL is empty the client
// has no token endpoint unless one is supplied with Builder.WithTokenClient.
type LoginConfig struct {
	BaseURL   string        `yaml:"base_url"`
	TokenPath string        `yaml:"token_path"`
	ClientID  string        `yaml:"client_id"`
	Scope     string        `yaml:"scope"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// AlertConfig controls user-facing notifications.
type AlertConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BufferSize   int           `yaml:"buffer_size"`
	DropIfFull   bool          `yaml:"drop_if_full"`
	LoadingDelay time.Duration `yaml:"loading_delay"`
}

// DefaultConfig returns the configuration Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Relay: RelayConfig{
			RedisPrefix:    "tabsync",
			HandshakeGrace: relay.DefaultHandshakeGrace,
		},
		Session: SessionConfig{
			StatusBuffer:      8,
			DefaultRememberMe: false,
		},
		Navigation: NavigationConfig{
			HomeURL:  "/",
			LoginURL: "/login",
		},
		Login: LoginConfig{
			TokenPath: "/connect/token",
			Timeout:   10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Alert: AlertConfig{
			Enabled:      false,
			BufferSize:   64,
			DropIfFull:   true,
			LoadingDelay: alert.DefaultLoadingDelay,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Relay
	if strings.TrimSpace(c.Relay.RedisPrefix) == "" {
		return errors.New("Relay RedisPrefix must not be empty")
	}
	if strings.Contains(c.Relay.RedisPrefix, " ") {
		return errors.New("Relay RedisPrefix must not contain spaces")
	}
	if c.Relay.HandshakeGrace <= 0 {
		return errors.New("Relay HandshakeGrace must be > 0")
	}
	if c.Relay.HandshakeGrace > time.Minute {
		return errors.New("Relay HandshakeGrace must be <= 1m")
	}

	// Session
	if c.Session.StatusBuffer < 1 {
		return errors.New("Session StatusBuffer must be >= 1")
	}

	// Navigation
	if !strings.HasPrefix(c.Navigation.HomeURL, "/") {
		return errors.New("Navigation HomeURL must start with /")
	}
	if !strings.HasPrefix(c.Navigation.LoginURL, "/") {
		return errors.New("Navigation LoginURL must start with /")
	}

	// Login
	if c.Login.BaseURL != "" {
		if strings.TrimSpace(c.Login.ClientID) == "" {
			return errors.New("Login ClientID is required when BaseURL is set")
		}
		if c.Login.Timeout <= 0 {
			return errors.New("Login Timeout must be > 0")
		}
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Alert
	if c.Alert.Enabled {
		if c.Alert.BufferSize <= 0 {
			return errors.New("Alert BufferSize must be > 0")
		}
		if c.Alert.LoadingDelay < 0 {
			return errors.New("Alert LoadingDelay must be >= 0")
		}
	}

	return nil
}
