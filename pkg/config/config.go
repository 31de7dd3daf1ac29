package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/process"
	"github.com/core-tools/hsu-multiserver/pkg/processfile"
)

const (
	DefaultProxyExecutable = "./multiserver/mt-multiserver-proxy"
	DefaultWorldsRoot      = "./worlds"
	DefaultWorldBinary     = "minetest"
	DefaultWorldConfigFile = "minetest.conf"
	DefaultWorldLogFile    = "debug.txt"

	DefaultPollInterval    = 1 * time.Second
	DefaultCooldown        = 5 * time.Second
	DefaultBackoffRate     = 1.0
	DefaultMaxCooldown     = 5 * time.Minute
	DefaultResetAfter      = 5 * time.Minute
	DefaultGracefulTimeout = 10 * time.Second
)

// Config is the top-level configuration file structure
type Config struct {
	Proxy       ProxyConfig       `yaml:"proxy"`
	Worlds      WorldsConfig      `yaml:"worlds"`
	Supervision SupervisionConfig `yaml:"supervision"`
	Output      string            `yaml:"output,omitempty"`
	ProcessFile ProcessFileConfig `yaml:"process_file"`
	Log         LogConfig         `yaml:"log"`
	Control     ControlConfig     `yaml:"control"`
}

type ProxyConfig struct {
	ExecutablePath string        `yaml:"executable_path"`
	StartupDelay   time.Duration `yaml:"startup_delay,omitempty"`
}

type WorldsConfig struct {
	Root            string `yaml:"root"`
	Binary          string `yaml:"binary"`
	ConfigFile      string `yaml:"config_file"`
	LogFile         string `yaml:"log_file"`
	RequireManifest bool   `yaml:"require_manifest,omitempty"`
}

type SupervisionConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	Cooldown        time.Duration `yaml:"cooldown"`
	BackoffRate     float64       `yaml:"backoff_rate"`
	MaxCooldown     time.Duration `yaml:"max_cooldown"`
	MaxRestarts     int           `yaml:"max_restarts"` // 0 = unlimited
	ResetAfter      time.Duration `yaml:"reset_after"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// PID files live in <base>/<app>/<deployment scope> unless use_subdirectory is false
type ProcessFileConfig struct {
	BaseDirectory   string `yaml:"base_directory,omitempty"`
	ServiceContext  string `yaml:"service_context,omitempty"`
	UseSubdirectory *bool  `yaml:"use_subdirectory,omitempty"`
	Disabled        bool   `yaml:"disabled,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output,omitempty"`
}

// Port 0 disables the endpoint
type ControlConfig struct {
	GRPCPort int `yaml:"grpc_port"`
	HTTPPort int `yaml:"http_port"`
}

// Default returns a configuration equivalent to an empty file
func Default() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile reads a YAML file and applies defaults
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}
	return config, nil
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	setConfigDefaults(&config)
	return &config, nil
}

func setConfigDefaults(config *Config) {
	if config.Proxy.ExecutablePath == "" {
		config.Proxy.ExecutablePath = DefaultProxyExecutable
	}

	if config.Worlds.Root == "" {
		config.Worlds.Root = DefaultWorldsRoot
	}
	if config.Worlds.Binary == "" {
		config.Worlds.Binary = DefaultWorldBinary
	}
	if config.Worlds.ConfigFile == "" {
		config.Worlds.ConfigFile = DefaultWorldConfigFile
	}
	if config.Worlds.LogFile == "" {
		config.Worlds.LogFile = DefaultWorldLogFile
	}

	s := &config.Supervision
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.Cooldown == 0 {
		s.Cooldown = DefaultCooldown
	}
	if s.BackoffRate == 0 {
		s.BackoffRate = DefaultBackoffRate
	}
	if s.MaxCooldown == 0 {
		s.MaxCooldown = DefaultMaxCooldown
	}
	if s.ResetAfter == 0 {
		s.ResetAfter = DefaultResetAfter
	}
	if s.GracefulTimeout == 0 {
		s.GracefulTimeout = DefaultGracefulTimeout
	}

	if config.ProcessFile.ServiceContext == "" {
		config.ProcessFile.ServiceContext = string(processfile.UserService)
	}
	if config.ProcessFile.UseSubdirectory == nil {
		useSubdirectory := true
		config.ProcessFile.UseSubdirectory = &useSubdirectory
	}

	if config.Output == "" {
		config.Output = process.StdioDiscard.String()
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
}

// ValidateConfig checks a configuration with defaults applied
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.Proxy.ExecutablePath == "" {
		return errors.NewValidationError("proxy executable path is required", nil)
	}
	if config.Proxy.StartupDelay < 0 {
		return errors.NewValidationError("proxy startup delay cannot be negative", nil)
	}

	if config.Worlds.Root == "" || config.Worlds.Binary == "" {
		return errors.NewValidationError("worlds root and binary are required", nil)
	}
	if config.Worlds.ConfigFile == "" || config.Worlds.LogFile == "" {
		return errors.NewValidationError("world config and log file names are required", nil)
	}

	if err := validateSupervision(config.Supervision); err != nil {
		return errors.NewValidationError("invalid supervision configuration", err)
	}

	if _, err := process.ParseStdioMode(config.Output); err != nil {
		return err
	}

	if _, err := processfile.ParseServiceContext(config.ProcessFile.ServiceContext); err != nil {
		return err
	}
	if config.ProcessFile.UseSubdirectory != nil && !*config.ProcessFile.UseSubdirectory &&
		config.ProcessFile.BaseDirectory == "" && !config.ProcessFile.Disabled {
		return errors.NewValidationError("process_file.use_subdirectory=false requires a base_directory", nil)
	}

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		return errors.NewValidationError("invalid log level", err).
			WithContext("valid_levels", "debug, info, warn, error")
	}
	if config.Log.Format != "console" && config.Log.Format != "json" {
		return errors.NewValidationError("invalid log format: "+config.Log.Format, nil).
			WithContext("valid_formats", "console, json")
	}

	for name, port := range map[string]int{"grpc_port": config.Control.GRPCPort, "http_port": config.Control.HTTPPort} {
		if port < 0 || port > 65535 {
			return errors.NewValidationError(fmt.Sprintf("control %s out of range: %d", name, port), nil)
		}
	}
	if config.Control.GRPCPort != 0 && config.Control.GRPCPort == config.Control.HTTPPort {
		return errors.NewValidationError("control grpc_port and http_port must differ", nil)
	}

	return nil
}

func validateSupervision(s SupervisionConfig) error {
	if s.PollInterval <= 0 {
		return errors.NewValidationError("poll interval must be positive", nil)
	}
	if s.Cooldown < 0 {
		return errors.NewValidationError("cooldown cannot be negative", nil)
	}
	if s.BackoffRate < 1.0 {
		return errors.NewValidationError("backoff rate must be at least 1.0", nil)
	}
	if s.MaxCooldown < s.Cooldown {
		return errors.NewValidationError("max cooldown cannot be lower than cooldown", nil)
	}
	if s.MaxRestarts < 0 {
		return errors.NewValidationError("max restarts cannot be negative", nil)
	}
	if s.ResetAfter < 0 {
		return errors.NewValidationError("reset after cannot be negative", nil)
	}
	if s.GracefulTimeout <= 0 {
		return errors.NewValidationError("graceful timeout must be positive", nil)
	}
	return nil
}

// ValidateConfigFile loads and validates in one step
func ValidateConfigFile(filename string) error {
	config, err := LoadConfigFromFile(filename)
	if err != nil {
		return err
	}
	return ValidateConfig(config)
}
