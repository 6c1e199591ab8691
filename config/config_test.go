package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Heartbeat.Interval != 30*time.Second || cfg.Heartbeat.Window != 60*time.Second {
		t.Fatalf("heartbeat = %+v", cfg.Heartbeat)
	}
	if cfg.Push.BodyLimit != 100 {
		t.Fatalf("push.body_limit = %d, want 100", cfg.Push.BodyLimit)
	}
	if cfg.Node.ID == "" {
		t.Fatal("node id must be generated when unset")
	}
	if cfg.NATS.Work.Stream == "" || cfg.NATS.Work.Prefix == "" || cfg.NATS.Work.MaxDeliver != 5 {
		t.Fatalf("nats.work = %+v", cfg.NATS.Work)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := strings.Join([]string{
		"http:",
		"  addr: \":9000\"",
		"heartbeat:",
		"  interval: 10s",
		"  window: 25s",
		"presence:",
		"  driver: redis",
		"log:",
		"  level: debug",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("IM_PRESENCE_PRESENCE_DRIVER", "nats")

	cfg, err := LoadConfig(path, []string{"--log.level=warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("http.addr = %q, want file value", cfg.HTTP.Addr)
	}
	if cfg.Heartbeat.Window != 25*time.Second {
		t.Errorf("heartbeat.window = %s, want 25s", cfg.Heartbeat.Window)
	}
	if cfg.Presence.Driver != "nats" {
		t.Errorf("presence.driver = %q, env must override file", cfg.Presence.Driver)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, flag must override file", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Heartbeat: HeartbeatConfig{Interval: 30 * time.Second, Window: 60 * time.Second},
			Registry:  RegistryConfig{SendBuffer: 8},
			Presence:  PresenceConfig{Driver: "memory"},
			Bus:       BusConfig{Driver: "gochannel", Channel: "fanout"},
			Push:      PushConfig{Driver: "log", BodyLimit: 100},
			Store:     StoreConfig{Driver: "memory"},
			Log:       LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "window not above interval", mutate: func(c *Config) { c.Heartbeat.Window = c.Heartbeat.Interval }, wantErr: "heartbeat.window"},
		{name: "unknown presence driver", mutate: func(c *Config) { c.Presence.Driver = "etcd" }, wantErr: "presence.driver"},
		{name: "unknown bus driver", mutate: func(c *Config) { c.Bus.Driver = "kafka" }, wantErr: "bus.driver"},
		{name: "unknown store driver", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: "store.driver"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "nats bus with work queue", mutate: func(c *Config) {
			c.Bus.Driver = "nats"
			c.NATS.Work = NATSWorkConfig{Stream: "WORK", Prefix: "work"}
		}},
		{name: "nats bus without work stream", mutate: func(c *Config) { c.Bus.Driver = "nats" }, wantErr: "nats.work.stream"},
		{name: "empty channel", mutate: func(c *Config) { c.Bus.Channel = "" }, wantErr: "bus.channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	lvl, err := LogConfig{Level: "DEBUG"}.SlogLevel()
	if err != nil || lvl != slog.LevelDebug {
		t.Fatalf("got %v, %v", lvl, err)
	}
}
