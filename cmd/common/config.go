package common

import (
	"fmt"
	"os"
	"time"

	"github.com/flashbots/inbox-arena/archive"
	"github.com/flashbots/inbox-arena/livechannel"
	"github.com/flashbots/inbox-arena/protocol"
	"gopkg.in/yaml.v3"
)

// Config is the arena server's configuration file.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Log      LogConfig            `yaml:"log"`
	Identity IdentityConfig       `yaml:"identity"`
	Game     protocol.ArenaConfig `yaml:"game"`
	Live     LiveConfig           `yaml:"live"`
	Archive  ArchiveConfig        `yaml:"archive"`
}

type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr"`
	MetricsAddr string   `yaml:"metrics_addr"`
	AdminToken  string   `yaml:"admin_token"`
	CORSOrigins []string `yaml:"cors_origins"`
	EnablePprof bool     `yaml:"enable_pprof"`

	DrainDuration            time.Duration `yaml:"drain_duration"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

type IdentityConfig struct {
	// ModeratorKey is a hex Ed25519 seed or private key. Generated if empty.
	ModeratorKey string `yaml:"moderator_key"`
	// TokenSecret signs credentials. Derived from the moderator key if empty.
	TokenSecret   string        `yaml:"token_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
	AllowRotation bool          `yaml:"allow_rotation"`
}

type LiveConfig struct {
	BufferSize        int           `yaml:"buffer_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type ArchiveConfig struct {
	// Kind is memory, file or postgres.
	Kind string `yaml:"kind"`
	// Target is the directory for file and the DSN for postgres.
	Target string `yaml:"target"`
	// Postgres spells out the database when Target is empty.
	Postgres *archive.PostgresConfig `yaml:"postgres"`
	// PoolFile optionally replaces the built-in message pool. It is watched
	// for changes.
	PoolFile string `yaml:"pool_file"`
}

// StoreTarget is the target handed to archive.Open.
func (c ArchiveConfig) StoreTarget() string {
	if c.Target == "" && c.Kind == archive.KindPostgres && c.Postgres != nil {
		return c.Postgres.DSN()
	}
	return c.Target
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:                 ":8080",
			MetricsAddr:              ":9090",
			DrainDuration:            5 * time.Second,
			GracefulShutdownDuration: 10 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Service: "inbox-arena",
		},
		Identity: IdentityConfig{
			TokenTTL:      30 * time.Minute,
			RefreshWindow: 5 * time.Minute,
		},
		Game: protocol.DefaultArenaConfig(),
		Live: LiveConfig{
			BufferSize:        livechannel.DefaultBufferSize,
			HeartbeatInterval: 15 * time.Second,
		},
		Archive: ArchiveConfig{
			Kind: archive.KindMemory,
		},
	}
}

// LoadConfig reads a YAML file over the defaults, so a file only needs the
// values it changes.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the sections that are not validated by their components.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	if c.Identity.TokenTTL <= 0 {
		return fmt.Errorf("identity.token_ttl must be positive")
	}
	switch c.Archive.Kind {
	case archive.KindMemory:
	case archive.KindFile:
		if c.Archive.Target == "" {
			return fmt.Errorf("archive.target is required for file archives")
		}
	case archive.KindPostgres:
		pg := c.Archive.Postgres
		if c.Archive.Target == "" && (pg == nil || pg.Host == "" || pg.Database == "") {
			return fmt.Errorf("postgres archives need archive.target or archive.postgres host and database")
		}
	default:
		return fmt.Errorf("unknown archive kind %q", c.Archive.Kind)
	}
	return nil
}
