package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EventMode selects how job events are consumed from the engine
type EventMode string

const (
	EventModeWebsocket EventMode = "websocket"
	EventModePoll      EventMode = "poll"
)

// Config holds the server configuration
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	EngineURL  string `mapstructure:"engine_url"`

	EventMode    EventMode     `mapstructure:"event_mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// JobTimeout is the floor for the per-job await deadline; long video
	// requests scale it up from here.
	JobTimeout time.Duration `mapstructure:"job_timeout"`

	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// Terminal tasks older than RetainCompleted are pruned from the registry
	RetainCompleted time.Duration `mapstructure:"retain_completed"`

	// TLS is enabled when both cert and key are set. TLSSelfSigned
	// generates the pair at those paths when missing.
	TLSCert       string `mapstructure:"tls_cert"`
	TLSKey        string `mapstructure:"tls_key"`
	TLSSelfSigned bool   `mapstructure:"tls_self_signed"`

	// APITokenHash is the bcrypt hash of the shared API token. Empty
	// disables authentication.
	APITokenHash string `mapstructure:"api_token_hash"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "text"
}

// TLSEnabled reports whether the listener should serve TLS
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8188")
	v.SetDefault("engine_url", "http://127.0.0.1:8189")
	v.SetDefault("event_mode", string(EventModeWebsocket))
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("job_timeout", 10*time.Minute)
	v.SetDefault("max_upload_bytes", int64(64<<20))
	v.SetDefault("retain_completed", 24*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration from an optional file plus GENBRIDGE_*
// environment variables. An empty path skips the file and uses
// env/defaults only; a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GENBRIDGE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that defaults alone cannot guarantee
func (c *Config) Validate() error {
	if c.EngineURL == "" {
		return fmt.Errorf("engine_url must be set")
	}
	switch c.EventMode {
	case EventModeWebsocket, EventModePoll:
	default:
		return fmt.Errorf("event_mode must be %q or %q, got %q",
			EventModeWebsocket, EventModePoll, c.EventMode)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}
