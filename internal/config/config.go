// Package config provides configuration management for typster using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration system supports YAML files (.typster.yml), environment
// variable overrides with the TYPSTER_ prefix and validation. It covers the
// engine executable, the package cache, font discovery, render defaults,
// the preview server and logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/internal/validation"
)

// EnvPrefix prefixes environment overrides: TYPSTER_<SECTION>_<OPTION>.
const EnvPrefix = "TYPSTER"

// ConfigFileEnv names a config file to load instead of .typster.yml.
const ConfigFileEnv = "TYPSTER_CONFIG_FILE"

type Config struct {
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Packages PackagesConfig `mapstructure:"packages" yaml:"packages"`
	Fonts    FontsConfig    `mapstructure:"fonts" yaml:"fonts"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Preview  PreviewConfig  `mapstructure:"preview" yaml:"preview"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type EngineConfig struct {
	Binary  string        `mapstructure:"binary" yaml:"binary"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type PackagesConfig struct {
	CacheDir        string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	RegistryURL     string        `mapstructure:"registry_url" yaml:"registry_url"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	// Paths are local package directories searched before the registry.
	Paths []string    `mapstructure:"paths" yaml:"paths"`
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`
}

type RetryConfig struct {
	Mode       string        `mapstructure:"mode" yaml:"mode"`
	Initial    time.Duration `mapstructure:"initial" yaml:"initial"`
	Max        time.Duration `mapstructure:"max" yaml:"max"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type FontsConfig struct {
	System bool     `mapstructure:"system" yaml:"system"`
	Paths  []string `mapstructure:"paths" yaml:"paths"`
}

type RenderConfig struct {
	Root     string            `mapstructure:"root" yaml:"root"`
	Format   string            `mapstructure:"format" yaml:"format"`
	PPI      float64           `mapstructure:"ppi" yaml:"ppi"`
	Output   string            `mapstructure:"output" yaml:"output"`
	Metadata map[string]string `mapstructure:"metadata" yaml:"metadata"`
}

type PreviewConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("engine.binary", "typst")
	v.SetDefault("engine.timeout", 2*time.Minute)

	v.SetDefault("packages.cache_dir", "")
	v.SetDefault("packages.registry_url", packages.DefaultRegistryURL)
	v.SetDefault("packages.download_timeout", 60*time.Second)
	v.SetDefault("packages.paths", []string{})
	v.SetDefault("packages.retry.mode", "linear")
	v.SetDefault("packages.retry.initial", 500*time.Millisecond)
	v.SetDefault("packages.retry.max", 5*time.Second)
	v.SetDefault("packages.retry.max_retries", 2)

	v.SetDefault("fonts.system", false)
	v.SetDefault("fonts.paths", []string{})

	v.SetDefault("render.root", ".")
	v.SetDefault("render.format", string(engine.FormatPDF))
	v.SetDefault("render.ppi", engine.DefaultPixelPerPt)
	v.SetDefault("render.output", "")

	v.SetDefault("preview.host", "localhost")
	v.SetDefault("preview.port", 8080)
	v.SetDefault("preview.debounce", 300*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// BindEnv enables environment overrides on v, mapping "render.ppi" to
// TYPSTER_RENDER_PPI.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration from v, filling defaults
// for anything unset.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through flags or env arrive as comma-joined strings.
	if v.IsSet("packages.paths") && len(config.Packages.Paths) == 0 {
		config.Packages.Paths = splitList(v.GetStringSlice("packages.paths"))
	}
	if v.IsSet("fonts.paths") && len(config.Fonts.Paths) == 0 {
		config.Fonts.Paths = splitList(v.GetStringSlice("fonts.paths"))
	}
	config.Render.Format = strings.ToLower(strings.TrimSpace(config.Render.Format))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// RetryPolicy returns the package download retry policy.
func (c *Config) RetryPolicy() packages.RetryPolicy {
	r := c.Packages.Retry
	return packages.NewRetryPolicy(r.Mode, r.Initial, r.Max, r.MaxRetries)
}

// CacheOptions returns the package cache options.
func (c *Config) CacheOptions(logger logging.Logger) packages.Options {
	return packages.Options{
		RegistryURL: c.Packages.RegistryURL,
		Timeout:     c.Packages.DownloadTimeout,
		Retry:       c.RetryPolicy(),
		Logger:      logger,
	}
}

// LoggerConfig returns the logger configuration. Invalid values were
// rejected by Load.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format
	return cfg
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateEngineConfig(&config.Engine); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := validatePackagesConfig(&config.Packages); err != nil {
		return fmt.Errorf("packages config: %w", err)
	}
	if err := validateFontsConfig(&config.Fonts); err != nil {
		return fmt.Errorf("fonts config: %w", err)
	}
	if err := validateRenderConfig(&config.Render); err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := validatePreviewConfig(&config.Preview); err != nil {
		return fmt.Errorf("preview config: %w", err)
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func validateEngineConfig(config *EngineConfig) error {
	if err := validation.ValidateExecutable(config.Binary, map[string]bool{"typst": true}); err != nil {
		return err
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", config.Timeout)
	}
	return nil
}

func validatePackagesConfig(config *PackagesConfig) error {
	if _, err := validation.ValidateRegistryURL(config.RegistryURL); err != nil {
		return err
	}
	if config.DownloadTimeout < 0 {
		return fmt.Errorf("download_timeout must not be negative: %s", config.DownloadTimeout)
	}
	if config.CacheDir != "" {
		if err := validation.ValidatePath(config.CacheDir); err != nil {
			return fmt.Errorf("invalid cache_dir: %w", err)
		}
	}
	for _, p := range config.Paths {
		if err := validation.ValidatePath(p); err != nil {
			return fmt.Errorf("invalid package path '%s': %w", p, err)
		}
	}
	switch config.Retry.Mode {
	case "", packages.BackoffFixed, packages.BackoffLinear, packages.BackoffExponential:
	default:
		return fmt.Errorf("unknown retry mode %q", config.Retry.Mode)
	}
	if config.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries cannot be negative")
	}
	return nil
}

func validateFontsConfig(config *FontsConfig) error {
	for _, p := range config.Paths {
		if err := validation.ValidatePath(p); err != nil {
			return fmt.Errorf("invalid font path '%s': %w", p, err)
		}
	}
	return nil
}

func validateRenderConfig(config *RenderConfig) error {
	if _, err := engine.ParseFormat(config.Format); err != nil {
		return err
	}
	if !(config.PPI > 0) {
		return fmt.Errorf("ppi must be positive, got %v", config.PPI)
	}
	if config.Root == "" {
		return fmt.Errorf("root cannot be empty")
	}
	return nil
}

// validatePreviewConfig validates preview server values
func validatePreviewConfig(config *PreviewConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative: %s", config.Debounce)
	}
	return nil
}

func validateLogConfig(config *LogConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	switch config.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (supported: text, json)", config.Format)
	}
}
