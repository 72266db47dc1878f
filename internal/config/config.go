// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	CORS      CORSConfig      `koanf:"cors"`
	Auth      AuthConfig      `koanf:"auth"`
	Email     EmailConfig     `koanf:"email"`
	WhatsApp  WhatsAppConfig  `koanf:"whatsapp"`
	Queue     QueueConfig     `koanf:"queue"`
	Sequences SequencesConfig `koanf:"sequences"`
	Links     LinksConfig     `koanf:"links"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// APIKeyConfig is one named API key. Hash is a bcrypt hash of the key; a raw
// value is accepted for local development.
type APIKeyConfig struct {
	Name string `koanf:"name"`
	Hash string `koanf:"hash"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

// EmailConfig holds SMTP sender settings.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// WhatsAppIdentityConfig is one configured WhatsApp sender identity.
type WhatsAppIdentityConfig struct {
	Name        string `koanf:"name"`
	PhoneID     string `koanf:"phone_id"`
	AccessToken string `koanf:"access_token"`
}

// WhatsAppConfig holds chat sender settings. FirstTouchIdentity is used for a
// lead's first outbound chat message; DefaultIdentity for everything after.
type WhatsAppConfig struct {
	Enabled            bool                     `koanf:"enabled"`
	APIBaseURL         string                   `koanf:"api_base_url"`
	Identities         []WhatsAppIdentityConfig `koanf:"identities"`
	DefaultIdentity    string                   `koanf:"default_identity"`
	FirstTouchIdentity string                   `koanf:"first_touch_identity"`
	RateLimit          float64                  `koanf:"rate_limit"`
}

// QueueConfig holds queue processor settings.
type QueueConfig struct {
	PollInterval    time.Duration `koanf:"poll_interval"`
	BatchSize       int           `koanf:"batch_size"`
	MaxAttempts     int           `koanf:"max_attempts"`
	NumWorkers      int           `koanf:"num_workers"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
}

// SequencesConfig names the sequences the transition coordinator moves leads
// between.
type SequencesConfig struct {
	NurtureSlug string `koanf:"nurture_slug"`
	BookedSlug  string `koanf:"booked_slug"`
	NoShowSlug  string `koanf:"no_show_slug"`
}

// LinksConfig holds URLs substituted into message content.
type LinksConfig struct {
	SchedulingURL     string        `koanf:"scheduling_url"`
	UnsubscribeBase   string        `koanf:"unsubscribe_base"`
	UnsubscribeSecret string        `koanf:"unsubscribe_secret"`
	UnsubscribeTTL    time.Duration `koanf:"unsubscribe_ttl"`
}

// Load reads configuration from the given YAML file (optional) and applies
// LEADGARDEN_ environment overrides (LEADGARDEN_DATABASE_URL → database.url).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("LEADGARDEN_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "LEADGARDEN_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = 30 * time.Second
	}
	if c.Database.ConnectAttempts == 0 {
		c.Database.ConnectAttempts = 3
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 60 * time.Second
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 50
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.NumWorkers == 0 {
		c.Queue.NumWorkers = 4
	}
	if c.Queue.DispatchTimeout == 0 {
		c.Queue.DispatchTimeout = 15 * time.Second
	}

	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}

	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = "https://graph.facebook.com/v19.0"
	}
	if c.WhatsApp.RateLimit == 0 {
		c.WhatsApp.RateLimit = 10
	}

	if c.Sequences.NurtureSlug == "" {
		c.Sequences.NurtureSlug = "nurture"
	}
	if c.Sequences.BookedSlug == "" {
		c.Sequences.BookedSlug = "booked"
	}
	if c.Sequences.NoShowSlug == "" {
		c.Sequences.NoShowSlug = "no-show"
	}

	if c.Links.UnsubscribeTTL == 0 {
		c.Links.UnsubscribeTTL = 90 * 24 * time.Hour
	}
}
