// Package config loads the engine's Config via viper: a YAML file
// searched in "." and "./configs", overridable by environment variables
// with "." -> "_" replacement, with programmatic defaults for every
// tunable named in spec.md §6.
//
// Grounded on the teacher's internal/infra/config.go (LoadConfig's
// viper.New / SetConfigName / AutomaticEnv / SetEnvKeyReplacer /
// setDefaults sequence), trimmed to this engine's concerns: there is no
// server-side database or RSA key material here, and the audit/heartbeat/
// session tunables replace the teacher's EngineConfig/CBConfig fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct for one client-engine process.
type Config struct {
	ControlPlaneURL string        `mapstructure:"control_plane_url"`
	OrgID           string        `mapstructure:"org_id"`
	ConfigRoot      string        `mapstructure:"config_root"`

	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Offline      OfflineConfig      `mapstructure:"offline"`
	DebugServer  DebugServerConfig  `mapstructure:"debug_server"`
	LocalMirror  LocalMirrorConfig  `mapstructure:"local_mirror"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// HeartbeatConfig tunes the Heartbeat background task (spec.md §4.4).
type HeartbeatConfig struct {
	IntervalMs        int `mapstructure:"interval_ms"`
	FailureThreshold  int `mapstructure:"failure_threshold"`
}

// AuditConfig tunes the AuditPipeline (spec.md §4.2).
type AuditConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	MaxBufferSize   int `mapstructure:"max_buffer_size"`
}

// OfflineConfig selects the Heartbeat's offline behavior (spec.md §4.4).
type OfflineConfig struct {
	Mode string `mapstructure:"mode"` // block | allow | cached
}

// DebugServerConfig binds the localhost-only introspection server.
type DebugServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LocalMirrorConfig configures the optional cross-process Redis mirror.
// Empty RedisAddr (the default) disables the mirror entirely.
type LocalMirrorConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	Channel   string `mapstructure:"channel"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// HeartbeatInterval returns the configured heartbeat interval as a
// time.Duration, applying the spec.md default of 30s.
func (c Config) HeartbeatInterval() time.Duration {
	if c.Heartbeat.IntervalMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Heartbeat.IntervalMs) * time.Millisecond
}

// AuditFlushInterval returns the configured audit flush interval,
// applying the spec.md default of 30s.
func (c Config) AuditFlushInterval() time.Duration {
	if c.Audit.FlushIntervalMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Audit.FlushIntervalMs) * time.Millisecond
}

// AuditBufferPath returns the path to audit-buffer.jsonl under ConfigRoot.
func (c Config) AuditBufferPath() string {
	return filepath.Join(c.ConfigRoot, "audit-buffer.jsonl")
}

// SessionStorePath returns the path to session.json under ConfigRoot.
func (c Config) SessionStorePath() string {
	return filepath.Join(c.ConfigRoot, "session.json")
}

// Load initializes configuration, merging file, environment, and
// programmatic defaults. A missing config file is not an error: the
// engine runs on defaults and environment overrides alone.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.ConfigRoot == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.ConfigRoot = filepath.Join(home, ".openclaw", "clawforge")
		} else {
			cfg.ConfigRoot = ".openclaw/clawforge"
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register these keys with viper so Unmarshal picks up
	// their environment overrides.
	v.SetDefault("control_plane_url", "")
	v.SetDefault("org_id", "")
	v.SetDefault("config_root", "")
	v.SetDefault("local_mirror.redis_addr", "")
	v.SetDefault("heartbeat.interval_ms", 30_000)
	v.SetDefault("heartbeat.failure_threshold", 10)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval_ms", 30_000)
	v.SetDefault("audit.max_buffer_size", 10_000)
	v.SetDefault("offline.mode", "block")
	v.SetDefault("debug_server.enabled", true)
	v.SetDefault("debug_server.addr", "127.0.0.1:8765")
	v.SetDefault("local_mirror.channel", "clawforge:governance")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
