package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"server": {"addr": ":9000"},
		"logging": {"level": "debug", "console": true},
		"timezone": "Asia/Manila",
		"engine": {"tick_interval": "2s"},
		"storage": {"dir": "./data"},
		"pushbullet": {"enabled": true, "token": "tok"},
		"maintenance": {"enabled": true, "at": "04:30"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Timezone != "Asia/Manila" {
		t.Errorf("timezone: %q", cfg.Timezone)
	}
	if cfg.Engine.TickInterval != "2s" {
		t.Errorf("tick: %q", cfg.Engine.TickInterval)
	}
	if !cfg.Pushbullet.Enabled || cfg.Pushbullet.Token != "tok" {
		t.Errorf("pushbullet: %+v", cfg.Pushbullet)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
server:
  addr: ":8000"
logging:
  level: info
  console: true
timezone: UTC
storage:
  dir: ./data
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Server.Addr != ":8000" || cfg.Timezone != "UTC" {
		t.Errorf("cfg: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"storage": {"dir": "./data"}, "surprise": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"storage": {"dir": "./data"}}{"extra": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing data must be rejected")
	}
}

func TestSubscribeDropsOldest(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"storage": {"dir": "./data"}}`)
	m := NewManager(path)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Timezone: "UTC"}
	second := &Config{Timezone: "Asia/Manila"}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got.Timezone != "Asia/Manila" {
			t.Errorf("want newest config, got %q", got.Timezone)
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("engine.tick_interval", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Errorf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("engine.tick_interval", "750ms", 5*time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Errorf("explicit: %v %v", d, err)
	}
	if _, err := ParseDurationField("engine.tick_interval", "soon"); err == nil {
		t.Error("bad duration must error")
	}
}
