package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Configuration system:
// - config.example.toml is generated with -generate-config
// - Defaults live in DefaultConfig; the TOML file and flags override them

// AppConfig represents the complete application configuration
type AppConfig struct {
	// HTTP server settings
	Server ServerConfig `toml:"server"`

	// Frame monitoring settings
	Monitor MonitorConfig `toml:"monitor"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Address to bind the metrics endpoint (default: "localhost:9190")
	ListenAddress string `toml:"listen_address"`

	// Path for the metrics endpoint (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`

	// Enable pprof debug endpoints (default: true)
	PprofEnabled bool `toml:"pprof_enabled"`
}

// MonitorConfig contains frame monitoring settings
type MonitorConfig struct {
	// Snapshot publication cadence in milliseconds (default: 1000)
	UpdateFrequencyMs uint32 `toml:"update_frequency_ms"`

	// Maximum queued snapshots per monitored process (default: 60)
	HistoryCapacity int `toml:"history_capacity"`

	// Present event queue depth between capture and aggregation (default: 2048)
	QueueSize int `toml:"queue_size"`

	// Subscribe to flip/blit events for present mode detection (default: true)
	TrackDisplay bool `toml:"track_display"`

	// Subscribe to GPU queue packet events for GPU timing (default: true)
	TrackGPU bool `toml:"track_gpu"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logger settings
	Defaults LogDefaults `toml:"defaults"`

	// Output destinations
	Outputs []LogOutput `toml:"outputs"`

	// Log level for the ETW library itself (default: "warn")
	LibLevel string `toml:"lib_level"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level: trace, debug, info, warn, error, fatal (default: "info")
	Level string `toml:"level"`

	// Caller reporting depth, 0 disables (default: 0)
	Caller int `toml:"caller"`

	// JSON field name for the timestamp (default: "time")
	TimeField string `toml:"time_field"`

	// Timestamp format, empty uses the library default
	TimeFormat string `toml:"time_format"`

	// Time zone: "Local", "UTC" or an IANA name (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: console, file, syslog, eventlog
	Type string `toml:"type"`

	// Whether this output is active
	Enabled bool `toml:"enabled"`

	// Type-specific settings, one of:
	Console  *ConsoleConfig  `toml:"console,omitempty"`
	File     *FileConfig     `toml:"file,omitempty"`
	Syslog   *SyslogConfig   `toml:"syslog,omitempty"`
	Eventlog *EventlogConfig `toml:"eventlog,omitempty"`
}

// ConsoleConfig contains console/terminal output settings
type ConsoleConfig struct {
	// Skip formatting and write raw JSON (default: false)
	FastIO bool `toml:"fast_io"`

	// Format: auto, logfmt, glog (default: "auto")
	Format string `toml:"format"`

	// Colorize output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Destination: stdout or stderr (default: "stderr")
	Writer string `toml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path
	Filename string `toml:"filename"`

	// Maximum file size in MB before rotation
	MaxSize int64 `toml:"max_size"`

	// Number of rotated files to keep
	MaxBackups int `toml:"max_backups"`

	// Timestamp format for rotated file names
	TimeFormat string `toml:"time_format"`

	// Use local time in rotated file names
	LocalTime bool `toml:"local_time"`

	// Include hostname in rotated file names
	HostName bool `toml:"host_name"`

	// Include process id in rotated file names
	ProcessID bool `toml:"process_id"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// SyslogConfig contains syslog output settings
type SyslogConfig struct {
	// Network protocol (default: "udp")
	Network string `toml:"network"`

	// Syslog server address (default: "localhost:514")
	Address string `toml:"address"`

	// Hostname for syslog messages (default: system hostname)
	Hostname string `toml:"hostname"`

	// Syslog tag/program name (default: "frame_exporter")
	Tag string `toml:"tag"`

	// Message prefix marker (default: "@cee:")
	Marker string `toml:"marker"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// EventlogConfig contains Windows Event Log settings
type EventlogConfig struct {
	// Event source name (default: "Frame Exporter")
	Source string `toml:"source"`

	// Event ID for log entries (default: 1000)
	ID int `toml:"id"`

	// Target host (default: local machine)
	Host string `toml:"host"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
			PprofEnabled:  true,
		},
		Monitor: MonitorConfig{
			UpdateFrequencyMs: 1000,
			HistoryCapacity:   60,
			QueueSize:         2048,
			TrackDisplay:      true,
			TrackGPU:          true,
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/app.log",
						MaxSize:      10, // 10MB
						MaxBackups:   7,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						HostName:     true,
						ProcessID:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
				{
					Type:    "syslog",
					Enabled: false,
					Syslog: &SyslogConfig{
						Network:  "udp",
						Address:  "localhost:514",
						Tag:      "frame_exporter",
						Hostname: "", // Uses system hostname by default
						Marker:   "@cee:",
						Async:    true,
					},
				},
				{
					Type:    "eventlog",
					Enabled: false,
					Eventlog: &EventlogConfig{
						Source: "Frame Exporter",
						ID:     1000,
						Host:   "", // localhost
						Async:  false,
					},
				},
			},
			LibLevel: "warn",
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If no config file specified, use defaults
	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates a TOML configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	header := `# Frame Exporter Example Configuration
# This file is auto-generated and serves as an example configuration.
# Copy this file to create your own configuration and modify as needed.
#
# Format: TOML (Tom's Obvious, Minimal Language)

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	config := DefaultConfig()
	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if c.Server.MetricsPath == "" {
		return fmt.Errorf("server.metrics_path cannot be empty")
	}

	if c.Monitor.UpdateFrequencyMs == 0 {
		return fmt.Errorf("monitor.update_frequency_ms must be greater than zero")
	}
	if c.Monitor.HistoryCapacity <= 0 {
		return fmt.Errorf("monitor.history_capacity must be greater than zero")
	}
	if c.Monitor.QueueSize <= 0 {
		return fmt.Errorf("monitor.queue_size must be greater than zero")
	}

	// Validate that at least one output is enabled
	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}

// Flags holds the command-line flags
type Flags struct {
	ListenAddress  string
	MetricsPath    string
	ConfigPath     string
	GenerateConfig string
	TargetPID      uint
	TargetProcess  string
}

// NewConfig creates a new configuration by parsing flags and loading the config file.
// A nil config with nil error signals a clean exit (config generation mode).
func NewConfig() (*AppConfig, *Flags, error) {
	flags := &Flags{}

	flag.StringVar(&flags.ListenAddress,
		"web.listen-address",
		":9190",
		"Address to listen on for web interface and telemetry.")
	flag.StringVar(&flags.MetricsPath,
		"web.telemetry-path",
		"/metrics",
		"Path under which to expose metrics.")
	flag.StringVar(&flags.ConfigPath,
		"config",
		"",
		"Path to configuration file (optional).")
	flag.StringVar(&flags.GenerateConfig,
		"generate-config",
		"",
		"Generate example config file to specified path and exit.")
	flag.UintVar(&flags.TargetPID,
		"pid",
		0,
		"Process ID to monitor.")
	flag.StringVar(&flags.TargetProcess,
		"process.name",
		"",
		"Executable name to monitor (alternative to -pid).")
	flag.Parse()

	// Handle config generation and exit.
	// We return a nil config to signal that the program should exit cleanly.
	if flags.GenerateConfig != "" {
		if err := GenerateExampleConfig(flags.GenerateConfig); err != nil {
			return nil, nil, fmt.Errorf("error generating example config: %w", err)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return nil, nil, nil
	}

	config := DefaultConfig()
	if flags.ConfigPath != "" {
		var err error
		config, err = LoadConfig(flags.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
	}

	// Override config with command-line flags if they were set by the user
	if isFlagPassed("web.listen-address") {
		config.Server.ListenAddress = flags.ListenAddress
	}
	if isFlagPassed("web.telemetry-path") {
		config.Server.MetricsPath = flags.MetricsPath
	}

	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, flags, nil
}

// isFlagPassed checks if a flag was explicitly set on the command line.
func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
