package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wol-go-home/internal/wake"
)

type Config struct {
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path       string `yaml:"path"`
		ApplyDelay string `yaml:"apply_delay"`
		Seed       string `yaml:"seed"`
	} `yaml:"store"`
	Wake struct {
		Backend       string `yaml:"backend"` // "", "etherwake", "wol" or a utility path
		Interface     string `yaml:"interface"`
		Broadcast     bool   `yaml:"broadcast"`
		Timeout       string `yaml:"timeout"`
		EtherwakePath string `yaml:"etherwake_path"`
		WolPath       string `yaml:"wol_path"`
	} `yaml:"wake"`
	Discovery struct {
		HintsFile     string   `yaml:"hints_file"`
		Script        string   `yaml:"script"`
		ExecAllowlist []string `yaml:"exec_allowlist"`
		ExecTimeout   string   `yaml:"exec_timeout"`
	} `yaml:"discovery"`
	Pinning struct {
		MaxPollAttempts int `yaml:"max_poll_attempts"`
	} `yaml:"pinning"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	// Parsed by validate.
	applyDelay  time.Duration
	wakeTimeout time.Duration
	execTimeout time.Duration
}

func (c *Config) validate() error {
	if c.Web.Listen == "" {
		return fmt.Errorf("web.listen is required")
	}
	if _, err := wake.ParseKind(c.Wake.Backend); err != nil {
		return fmt.Errorf("wake.backend: %w", err)
	}
	if c.Pinning.MaxPollAttempts < 0 {
		return fmt.Errorf("pinning.max_poll_attempts must not be negative, got %d", c.Pinning.MaxPollAttempts)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	for _, p := range c.Discovery.ExecAllowlist {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("discovery.exec_allowlist: %q is not an absolute path", p)
		}
	}

	var err error
	if c.applyDelay, err = parseDuration("store.apply_delay", c.Store.ApplyDelay); err != nil {
		return err
	}
	if c.wakeTimeout, err = parseDuration("wake.timeout", c.Wake.Timeout); err != nil {
		return err
	}
	if c.execTimeout, err = parseDuration("discovery.exec_timeout", c.Discovery.ExecTimeout); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, raw)
	}
	return d, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "wol-home.db"
	}
	if cfg.Store.ApplyDelay == "" {
		cfg.Store.ApplyDelay = "1500ms"
	}
	if cfg.Wake.Timeout == "" {
		cfg.Wake.Timeout = "10s"
	}
	if cfg.Discovery.ExecTimeout == "" {
		cfg.Discovery.ExecTimeout = "5s"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "wol"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
