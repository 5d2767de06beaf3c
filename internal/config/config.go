// Package config loads server configuration.
//
// Values are resolved in order: built-in defaults, then the YAML file named
// by --config or LOSTFOUND_CONFIG, then command-line flags. A flag only
// overrides the file when it is given explicitly.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "LOSTFOUND_CONFIG"

// ErrHelp is returned by Load when -h or --help was given.
var ErrHelp = pflag.ErrHelp

// Config is the server configuration.
type Config struct {
	// DBPath is the SQLite database file. Created on first run.
	DBPath string `yaml:"db"`

	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// AdminUser is the username of the admin account created on first run.
	AdminUser string `yaml:"admin_user"`

	// LogPath, if set, receives a copy of all log output.
	LogPath string `yaml:"log"`

	// StoreTimeout bounds every claim lifecycle call.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// ReconcileInterval is how often item statuses are checked against
	// their claims. Zero disables the periodic check; it still runs once
	// at startup.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// RedisURL enables the cross-instance change bridge when set.
	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:            "lostfound.sqlite3",
		Addr:              ":8080",
		AdminUser:         "admin",
		StoreTimeout:      5 * time.Second,
		ReconcileInterval: time.Minute,
		RedisChannel:      "lostfound:changes",
	}
}

// Load resolves the configuration from args (without the program name).
func Load(args []string, usage io.Writer) (*Config, error) {
	def := Default()
	var flagValues Config
	var configPath string

	fs := pflag.NewFlagSet("lostfound", pflag.ContinueOnError)
	fs.SetOutput(usage)
	fs.StringVarP(&flagValues.DBPath, "db", "d", def.DBPath, "SQLite database path")
	fs.StringVarP(&flagValues.Addr, "addr", "a", def.Addr, "listen address")
	fs.StringVarP(&flagValues.AdminUser, "user", "u", def.AdminUser, "admin username on first run")
	fs.StringVarP(&flagValues.LogPath, "log", "l", "", "log file path (default: stdout/stderr only)")
	fs.StringVarP(&configPath, "config", "c", "", "YAML config file (default: $"+EnvConfig+")")
	fs.DurationVar(&flagValues.StoreTimeout, "store-timeout", def.StoreTimeout, "timeout for each claim operation")
	fs.DurationVar(&flagValues.ReconcileInterval, "reconcile-interval", def.ReconcileInterval, "item status reconciliation interval (0 disables)")
	fs.StringVar(&flagValues.RedisURL, "redis-url", "", "Redis URL or host:port for multi-instance change events")
	fs.StringVar(&flagValues.RedisChannel, "redis-channel", def.RedisChannel, "Redis pub/sub channel")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg := def
	if configPath == "" {
		configPath = os.Getenv(EnvConfig)
	}
	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	override := map[string]func(){
		"db":                 func() { cfg.DBPath = flagValues.DBPath },
		"addr":               func() { cfg.Addr = flagValues.Addr },
		"user":               func() { cfg.AdminUser = flagValues.AdminUser },
		"log":                func() { cfg.LogPath = flagValues.LogPath },
		"store-timeout":      func() { cfg.StoreTimeout = flagValues.StoreTimeout },
		"reconcile-interval": func() { cfg.ReconcileInterval = flagValues.ReconcileInterval },
		"redis-url":          func() { cfg.RedisURL = flagValues.RedisURL },
		"redis-channel":      func() { cfg.RedisChannel = flagValues.RedisChannel },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := override[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that required values are present and in range.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.AdminUser == "" {
		errs = append(errs, errors.New("admin user is required"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("reconcile interval must not be negative"))
	}
	if c.RedisURL != "" && c.RedisChannel == "" {
		errs = append(errs, errors.New("redis channel is required when redis is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
