package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestConfigData tests configuration data, defaults, edge cases, and validation
func TestConfigData(t *testing.T) {
	tests := []struct {
		name       string
		config     *AppConfig
		configTOML string
		setupFunc  func(*AppConfig)
		expectErr  bool
		validate   func(*testing.T, *AppConfig)
	}{
		{
			name:   "default config",
			config: DefaultConfig(),
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != "localhost:9190" {
					t.Errorf("Expected ListenAddress 'localhost:9190', got %s", c.Server.ListenAddress)
				}
				if c.Monitor.UpdateFrequencyMs != 1000 {
					t.Errorf("Expected update frequency 1000, got %d", c.Monitor.UpdateFrequencyMs)
				}
				if c.Monitor.HistoryCapacity != 60 {
					t.Errorf("Expected history capacity 60, got %d", c.Monitor.HistoryCapacity)
				}
				if !c.Monitor.TrackDisplay || !c.Monitor.TrackGPU {
					t.Error("Expected display and GPU tracking enabled by default")
				}
				if c.Logging.Defaults.Level != "info" {
					t.Errorf("Expected default log level 'info', got %s", c.Logging.Defaults.Level)
				}
				if len(c.Logging.Outputs) != 4 {
					t.Errorf("Expected 4 outputs, got %d", len(c.Logging.Outputs))
				}
			},
		},
		{
			name: "custom monitor config",
			configTOML: `
[monitor]
update_frequency_ms = 250
history_capacity = 120
track_gpu = false

[[logging.outputs]]
type = "console"
enabled = true
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Monitor.UpdateFrequencyMs != 250 {
					t.Errorf("Expected update frequency 250, got %d", c.Monitor.UpdateFrequencyMs)
				}
				if c.Monitor.HistoryCapacity != 120 {
					t.Errorf("Expected history capacity 120, got %d", c.Monitor.HistoryCapacity)
				}
				if c.Monitor.TrackGPU {
					t.Error("Expected GPU tracking disabled")
				}
				// Untouched sections keep their defaults.
				if c.Monitor.QueueSize != 2048 {
					t.Errorf("Expected default queue size 2048, got %d", c.Monitor.QueueSize)
				}
			},
		},
		{
			name: "custom logging config",
			configTOML: `
[logging.defaults]
level = "debug"

[[logging.outputs]]
type = "console"
enabled = true

[[logging.outputs]]
type = "file"
enabled = true
[logging.outputs.file]
filename = "app.log"
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Logging.Defaults.Level != "debug" {
					t.Errorf("Expected debug level, got %s", c.Logging.Defaults.Level)
				}
				if len(c.Logging.Outputs) != 2 {
					t.Errorf("Expected 2 outputs, got %d", len(c.Logging.Outputs))
				}
			},
		},
		{
			name:   "invalid empty listen address",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Server.ListenAddress = ""
			},
			expectErr: true,
		},
		{
			name:   "invalid zero update frequency",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Monitor.UpdateFrequencyMs = 0
			},
			expectErr: true,
		},
		{
			name:   "invalid zero queue size",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Monitor.QueueSize = 0
			},
			expectErr: true,
		},
		{
			name:   "invalid no outputs enabled",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				for i := range c.Logging.Outputs {
					c.Logging.Outputs[i].Enabled = false
				}
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *AppConfig

			if tt.config != nil {
				cfg = tt.config
				if tt.setupFunc != nil {
					tt.setupFunc(cfg)
				}
			} else {
				tmpDir := t.TempDir()
				path := filepath.Join(tmpDir, "test.toml")
				os.WriteFile(path, []byte(tt.configTOML), 0644)
				var err error
				cfg, err = LoadConfig(path)
				if err != nil {
					t.Fatalf("Failed to load config: %v", err)
				}
			}

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error but got none")
			} else if !tt.expectErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}

			if !tt.expectErr && tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

// TestLoadConfig tests loading configurations with fallbacks
func TestLoadConfig(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if cfg.Server.ListenAddress != "localhost:9190" {
			t.Errorf("Expected default listen address, got %s", cfg.Server.ListenAddress)
		}
	})

	t.Run("non-existent file returns defaults with error", func(t *testing.T) {
		cfg, err := LoadConfig("nonexistent.toml")
		if err == nil {
			t.Error("Expected error for missing file")
		}
		if cfg == nil {
			t.Fatal("Expected defaults alongside the error")
		}
	})

	t.Run("invalid TOML returns error", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "bad.toml")
		os.WriteFile(path, []byte("[server]\nlisten_address = :8080 [\n"), 0644)
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected parse error")
		}
	})
}

// TestSaveRoundTrip verifies a saved config loads back identically for the
// fields that matter.
func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "saved.toml")

	cfg := DefaultConfig()
	cfg.Monitor.UpdateFrequencyMs = 500
	cfg.Server.ListenAddress = ":7070"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Monitor.UpdateFrequencyMs != 500 {
		t.Errorf("Expected update frequency 500, got %d", loaded.Monitor.UpdateFrequencyMs)
	}
	if loaded.Server.ListenAddress != ":7070" {
		t.Errorf("Expected listen address :7070, got %s", loaded.Server.ListenAddress)
	}
}
