// Package config loads the application configuration from YAML files and
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// EnvPrefix prefixes every environment override, e.g.
// JXLCONVERTER_ENGINE_CONCURRENCY=4
const EnvPrefix = "JXLCONVERTER"

// DefaultFile is read when no --config flag is given
const DefaultFile = "config.yaml"

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig            `yaml:"server" mapstructure:"server"`
	Tools    ToolsConfig             `yaml:"tools" mapstructure:"tools"`
	Engine   EngineConfig            `yaml:"engine" mapstructure:"engine"`
	Database DatabaseConfig          `yaml:"database" mapstructure:"database"`
	Log      LogConfig               `yaml:"log" mapstructure:"log"`
	Defaults types.ConversionOptions `yaml:"defaults" mapstructure:"defaults"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ToolsConfig configures where the codec tools are looked up
type ToolsConfig struct {
	// Dir is searched before PATH. Empty means "tools" next to the executable.
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Encoder string `yaml:"encoder" mapstructure:"encoder"`
	Decoder string `yaml:"decoder" mapstructure:"decoder"`
}

// EngineConfig configures task execution
type EngineConfig struct {
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
}

// DatabaseConfig represents the run history database. An empty path keeps
// history in memory.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig represents logging configuration with rotation
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// ToolFor returns the configured executable name for a direction
func (t ToolsConfig) ToolFor(d types.Direction) string {
	if d == types.DirectionDecode {
		return t.Decoder
	}
	return t.Encoder
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"*"},
		},
		Tools: ToolsConfig{
			Dir:     "",
			Encoder: "cjxl",
			Decoder: "djxl",
		},
		Engine: EngineConfig{
			Concurrency: 1,
			GracePeriod: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Log: LogConfig{
			File:       "",     // Empty = console only
			Level:      "info", // Default log level
			MaxSize:    100,    // 100MB max size
			MaxAge:     30,     // Keep for 30 days
			MaxBackups: 10,     // Keep 10 old files
			Compress:   true,
		},
		Defaults: types.DefaultOptions(),
	}
}

var validLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}

	if c.Tools.Encoder == "" || c.Tools.Decoder == "" {
		return fmt.Errorf("tools encoder and decoder must not be empty")
	}

	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine concurrency must be greater than 0")
	}

	if c.Engine.GracePeriod < 0 {
		return fmt.Errorf("engine grace_period must not be negative")
	}

	if c.Log.Level != "" && !slices.Contains(validLevels, c.Log.Level) {
		return fmt.Errorf("log.level must be one of: %s", strings.Join(validLevels, ", "))
	}

	if !c.Defaults.Direction.Valid() {
		return fmt.Errorf("defaults.direction must be encode or decode")
	}

	if c.Defaults.Quality < types.QualityMin || c.Defaults.Quality > types.QualityMax {
		return fmt.Errorf("defaults.quality must be between %d and %d", types.QualityMin, types.QualityMax)
	}

	if c.Defaults.Effort < types.EffortMin || c.Defaults.Effort > types.EffortMax {
		return fmt.Errorf("defaults.effort must be between %d and %d", types.EffortMin, types.EffortMax)
	}

	if _, err := types.ParseOutputFormat(string(c.Defaults.OutputFormat)); err != nil {
		return fmt.Errorf("defaults.output_format: %w", err)
	}

	return nil
}

// Load reads configFile on top of the defaults and applies environment
// overrides. A missing default config file is not an error; a missing
// explicitly named one is.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultFile
	}
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("tools.dir", cfg.Tools.Dir)
	v.SetDefault("tools.encoder", cfg.Tools.Encoder)
	v.SetDefault("tools.decoder", cfg.Tools.Decoder)
	v.SetDefault("engine.concurrency", cfg.Engine.Concurrency)
	v.SetDefault("engine.grace_period", cfg.Engine.GracePeriod)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.max_size", cfg.Log.MaxSize)
	v.SetDefault("log.max_age", cfg.Log.MaxAge)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.compress", cfg.Log.Compress)
	v.SetDefault("defaults.direction", string(cfg.Defaults.Direction))
	v.SetDefault("defaults.lossless", cfg.Defaults.Lossless)
	v.SetDefault("defaults.quality", cfg.Defaults.Quality)
	v.SetDefault("defaults.effort", cfg.Defaults.Effort)
	v.SetDefault("defaults.output_format", string(cfg.Defaults.OutputFormat))
	v.SetDefault("defaults.recursive", cfg.Defaults.Recursive)
	v.SetDefault("defaults.preserve_structure", cfg.Defaults.PreserveStructure)
	v.SetDefault("defaults.output_dir", cfg.Defaults.OutputDir)
}

// SaveToFile saves a configuration to a YAML file
func SaveToFile(cfg *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
