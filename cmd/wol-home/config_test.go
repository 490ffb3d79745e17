package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "wake:\n  interface: br-lan\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("listen = %q", cfg.Web.Listen)
	}
	if cfg.Store.Path != "wol-home.db" {
		t.Errorf("store.path = %q", cfg.Store.Path)
	}
	if cfg.MQTT.TopicPrefix != "wol" {
		t.Errorf("topic_prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.applyDelay != 1500*time.Millisecond || cfg.wakeTimeout != 10*time.Second || cfg.execTimeout != 5*time.Second {
		t.Errorf("durations = %v %v %v", cfg.applyDelay, cfg.wakeTimeout, cfg.execTimeout)
	}
	if cfg.Wake.Interface != "br-lan" {
		t.Errorf("wake.interface = %q", cfg.Wake.Interface)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "wake:\n  backend: magic\n", "wake.backend"},
		{"bad duration", "store:\n  apply_delay: soon\n", "store.apply_delay"},
		{"negative duration", "wake:\n  timeout: -1s\n", "wake.timeout"},
		{"negative polls", "pinning:\n  max_poll_attempts: -1\n", "max_poll_attempts"},
		{"mqtt without broker", "mqtt:\n  enabled: true\n", "mqtt.broker"},
		{"relative allowlist", "discovery:\n  exec_allowlist: [arp]\n", "exec_allowlist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
