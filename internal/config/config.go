// Package config loads server settings from an optional config file and
// SCANFLEET_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SCANFLEET"

// Config is the fully resolved server configuration.
type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	// WSPassword is the shared secret for listener and overseer sessions.
	WSPassword     string
	WSWriteTimeout time.Duration

	HeartbeatInterval time.Duration
	CommandTimeout    time.Duration
	StatusTimeout     time.Duration

	ReclaimInterval time.Duration
	ReclaimCutoff   time.Duration

	TraderCooldown time.Duration
	DefaultBatch   int
	MaxBatch       int

	RatePerMinute int

	LogLevel string
	LogFile  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "scanfleet.sqlite3")
	v.SetDefault("ws.password", "")
	v.SetDefault("ws.write_timeout", 10*time.Second)
	v.SetDefault("heartbeat.interval", 10*time.Second)
	v.SetDefault("commands.timeout", 20*time.Minute)
	v.SetDefault("commands.status_timeout", 30*time.Second)
	v.SetDefault("reclaim.interval", 5*time.Minute)
	v.SetDefault("reclaim.cutoff", 15*time.Minute)
	v.SetDefault("lease.trader_cooldown", 24*time.Hour)
	v.SetDefault("lease.default_batch", 50)
	v.SetDefault("lease.max_batch", 200)
	v.SetDefault("api.rate_per_minute", 600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads path (toml, yaml or json by extension) when it is non-empty,
// then applies environment overrides such as SCANFLEET_DB_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:          v.GetString("http.addr"),
		DBDriver:          v.GetString("db.driver"),
		DBDSN:             v.GetString("db.dsn"),
		WSPassword:        v.GetString("ws.password"),
		WSWriteTimeout:    v.GetDuration("ws.write_timeout"),
		HeartbeatInterval: v.GetDuration("heartbeat.interval"),
		CommandTimeout:    v.GetDuration("commands.timeout"),
		StatusTimeout:     v.GetDuration("commands.status_timeout"),
		ReclaimInterval:   v.GetDuration("reclaim.interval"),
		ReclaimCutoff:     v.GetDuration("reclaim.cutoff"),
		TraderCooldown:    v.GetDuration("lease.trader_cooldown"),
		DefaultBatch:      v.GetInt("lease.default_batch"),
		MaxBatch:          v.GetInt("lease.max_batch"),
		RatePerMinute:     v.GetInt("api.rate_per_minute"),
		LogLevel:          v.GetString("log.level"),
		LogFile:           v.GetString("log.file"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("db.dsn is empty"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}
	if c.ReclaimInterval <= 0 || c.ReclaimCutoff <= 0 {
		errs = append(errs, errors.New("reclaim.interval and reclaim.cutoff must be positive"))
	}
	if c.DefaultBatch <= 0 || c.MaxBatch < c.DefaultBatch {
		errs = append(errs, fmt.Errorf("lease batch sizes invalid: default %d, max %d", c.DefaultBatch, c.MaxBatch))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
