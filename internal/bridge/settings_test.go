package bridge

import (
	"testing"

	"github.com/kingrea/crucible/internal/config"
)

func TestSettingsDefaults(t *testing.T) {
	s := SettingsFromConfig(nil)
	if !s.Enabled {
		t.Fatal("bridge should default to enabled")
	}
	if s.Host != DefaultHost || s.Port != DefaultPort {
		t.Fatalf("unexpected defaults: %s:%d", s.Host, s.Port)
	}
	if s.Address() != "127.0.0.1:8765" {
		t.Fatalf("unexpected address: %s", s.Address())
	}
}

func TestSettingsFromConfigOverrides(t *testing.T) {
	disabled := false
	cfg := &config.Config{}
	cfg.Project.Bridge = config.BridgeConfig{Enabled: &disabled, Host: "0.0.0.0", Port: 9100}
	s := SettingsFromConfig(cfg)
	if s.Enabled {
		t.Fatal("config disable not honored")
	}
	if s.Host != "0.0.0.0" || s.Port != 9100 {
		t.Fatalf("config overrides not applied: %s:%d", s.Host, s.Port)
	}
}

func TestSettingsEnvOverridesWin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Project.Bridge = config.BridgeConfig{Host: "10.0.0.1", Port: 9100}
	t.Setenv("CRUCIBLE_BRIDGE_HOST", "192.168.1.5")
	t.Setenv("CRUCIBLE_BRIDGE_PORT", "9200")
	t.Setenv("CRUCIBLE_BRIDGE_ENABLED", "false")
	s := SettingsFromConfig(cfg)
	if s.Host != "192.168.1.5" || s.Port != 9200 {
		t.Fatalf("env overrides not applied: %s:%d", s.Host, s.Port)
	}
	if s.Enabled {
		t.Fatal("env disable not honored")
	}
}

func TestSettingsIgnoreInvalidValues(t *testing.T) {
	t.Setenv("CRUCIBLE_BRIDGE_PORT", "not-a-port")
	s := SettingsFromConfig(nil)
	if s.Port != DefaultPort {
		t.Fatalf("invalid port accepted: %d", s.Port)
	}
}
