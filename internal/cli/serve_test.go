package cli

import (
	"testing"
)

func resetServeFlags() {
	serveConfigPath = ""
	serveListen = ""
	serveLogLevel = ""
	serveNoWatch = false
	serveMDNS = false
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	resetServeFlags()
	serveConfigPath = "/nonexistent/config.yaml"

	cfg, err := loadServeConfig()
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}
	if cfg.Listen != ":3000" {
		t.Errorf("Listen = %q, want :3000", cfg.Listen)
	}
	if !cfg.Watch {
		t.Error("expected watcher enabled by default")
	}
	if cfg.MDNS.Enabled {
		t.Error("expected mdns disabled by default")
	}
}

func TestLoadServeConfig_FlagOverrides(t *testing.T) {
	resetServeFlags()
	serveConfigPath = "/nonexistent/config.yaml"
	serveListen = ":4000"
	serveLogLevel = "debug"
	serveNoWatch = true
	serveMDNS = true

	cfg, err := loadServeConfig()
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}
	if cfg.Listen != ":4000" {
		t.Errorf("Listen = %q, want :4000", cfg.Listen)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Watch {
		t.Error("expected watcher disabled by --no-watch")
	}
	if !cfg.MDNS.Enabled {
		t.Error("expected mdns enabled by --mdns")
	}
}

func TestLanAddrs_NeverEmpty(t *testing.T) {
	resetServeFlags()
	if len(lanAddrs()) == 0 {
		t.Error("expected at least one address")
	}
}
