// Package config loads the server configuration with viper. Priority is
// environment variables (PIDRO_ prefix), then the config file, then the
// defaults baked in here.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vctt94/bisonbotkit/utils"
)

// Config is the full server configuration tree, one section per subsystem.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Bots    BotsConfig    `mapstructure:"bots"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig covers the HTTP listener and the stats database. An empty
// DBPath resolves to pidro.sqlite under DataDir.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`
	DBPath     string `mapstructure:"db_path"`
}

// RoomsConfig covers grace windows and the idle-room janitor.
type RoomsConfig struct {
	ReplaceGrace    time.Duration `mapstructure:"replace_grace"`
	RemovalGrace    time.Duration `mapstructure:"removal_grace"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// BotsConfig covers defaults for spawned bots.
type BotsConfig struct {
	Strategy    string        `mapstructure:"strategy"`
	ActionDelay time.Duration `mapstructure:"action_delay"`
}

// PubSubConfig covers the event fabric.
type PubSubConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// GatewayConfig covers per-connection limits on the WebSocket side.
type GatewayConfig struct {
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// LogConfig feeds the bisonbotkit log backend.
type LogConfig struct {
	File     string `mapstructure:"file"`
	Level    string `mapstructure:"level"`
	MaxFiles int    `mapstructure:"max_files"`
}

// Load reads the configuration. An explicit path must exist; otherwise
// pidro.yml is searched for in the working directory and /etc/pidro, and
// missing files are fine.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("pidro")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pidro")
	}

	v.SetEnvPrefix("pidro")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// An explicitly requested file must load; the searched-for default
		// is optional.
		if path != "" || !notFoundOnDisk(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths fills the path settings that default relative to each other.
func (c *Config) resolvePaths() {
	if c.Server.DataDir == "" {
		c.Server.DataDir = utils.AppDataDir("pidrosrv", false)
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = filepath.Join(c.Server.DataDir, "pidro.sqlite")
	}
}

func notFoundOnDisk(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return strings.Contains(err.Error(), "no such file or directory")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.data_dir", "")
	v.SetDefault("server.db_path", "")

	v.SetDefault("rooms.replace_grace", "10s")
	v.SetDefault("rooms.removal_grace", "120s")
	v.SetDefault("rooms.idle_timeout", "30m")
	v.SetDefault("rooms.janitor_interval", "1m")

	v.SetDefault("bots.strategy", "random")
	v.SetDefault("bots.action_delay", "1s")

	v.SetDefault("pubsub.buffer", 64)

	v.SetDefault("gateway.rate_limit", 20.0)
	v.SetDefault("gateway.rate_burst", 40)

	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_files", 5)
}

// Default returns the built-in configuration, the one Load produces with
// no file and no environment.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Rooms: RoomsConfig{
			ReplaceGrace:    10 * time.Second,
			RemovalGrace:    120 * time.Second,
			IdleTimeout:     30 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Bots: BotsConfig{
			Strategy:    "random",
			ActionDelay: time.Second,
		},
		PubSub: PubSubConfig{Buffer: 64},
		Gateway: GatewayConfig{
			RateLimit: 20,
			RateBurst: 40,
		},
		Log: LogConfig{Level: "info", MaxFiles: 5},
	}
	cfg.resolvePaths()
	return cfg
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must be set")
	}
	if c.Rooms.ReplaceGrace <= 0 {
		return fmt.Errorf("rooms.replace_grace must be positive")
	}
	if c.Rooms.RemovalGrace <= 0 {
		return fmt.Errorf("rooms.removal_grace must be positive")
	}
	if c.Rooms.IdleTimeout < 0 || c.Rooms.JanitorInterval < 0 {
		return fmt.Errorf("rooms janitor settings must not be negative")
	}
	if c.Bots.ActionDelay <= 0 {
		return fmt.Errorf("bots.action_delay must be positive")
	}
	if c.PubSub.Buffer < 1 {
		return fmt.Errorf("pubsub.buffer must be at least 1")
	}
	if c.Gateway.RateLimit <= 0 || c.Gateway.RateBurst < 1 {
		return fmt.Errorf("gateway rate limit settings must be positive")
	}
	return nil
}
