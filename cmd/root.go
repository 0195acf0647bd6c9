// Package cmd provides the typster command-line interface.
//
// Configuration System:
//
//	Settings come from several sources, highest priority first:
//	1. Command-line flags (--format, --ppi, etc.)
//	2. Individual environment variables (TYPSTER_RENDER_PPI, etc.)
//	3. The file named by --config or TYPSTER_CONFIG_FILE
//	4. .typster.yml in the current directory
//	5. Built-in defaults
//
// Environment Variables:
//
//	TYPSTER_CONFIG_FILE: Path to custom configuration file
//	TYPSTER_ENGINE_BINARY: typst executable to run
//	TYPSTER_PACKAGES_CACHE_DIR: Override the package cache directory
//	TYPSTER_RENDER_FORMAT: Default output format
//	And the rest following the TYPSTER_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/typster/internal/config"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/pkg/typster"
)

var cfgFile string

// engineOverride replaces the typst executable engine; tests set it.
var engineOverride typster.Engine

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "typster",
	Short: "Render Typst templates with data to PDF, SVG or PNG",
	Long: `Typster renders Typst templates with variables loaded from JSON, YAML, HCL
or TOML files, resolving @preview packages through a shared on-disk cache.

Quick Start:
  typster render report.typ --vars data.json     Render to report.pdf
  typster render report.typ -f svg               One SVG per page
  typster check report.typ                       Report errors without rendering
  typster preview report.typ                     Live preview in the browser
  typster packages fetch @preview/cetz:0.3.1     Warm the package cache

Command Aliases:
  render (r), check (c), preview (p), watch (w)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext is Execute with a cancellable context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .typster.yml, can also use TYPSTER_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig picks the config file: --config, then TYPSTER_CONFIG_FILE,
// then .typster.yml in the current directory. A missing default file is
// not an error; a named file that cannot be read is reported by
// loadConfig.
func initConfig() {
	switch envConfigFile := os.Getenv(config.ConfigFileEnv); {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case envConfigFile != "":
		viper.SetConfigFile(envConfigFile)
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".typster")
	}

	config.BindEnv(viper.GetViper())
}

// loadConfig reads the config file chosen by initConfig and builds the
// logger it describes.
func loadConfig() (*config.Config, logging.Logger, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(cfg.LoggerConfig())
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug(context.Background(), "Using config file", "path", used)
	}
	return cfg, logger, nil
}

// newCache opens the package cache described by cfg.
func newCache(cfg *config.Config, logger logging.Logger) (*packages.Cache, error) {
	return packages.New(cfg.Packages.CacheDir, cfg.CacheOptions(logger))
}

// newRenderer builds a renderer from cfg.
func newRenderer(ctx context.Context, cfg *config.Config, logger logging.Logger) (*typster.Renderer, error) {
	cache, err := newCache(cfg, logger)
	if err != nil {
		return nil, err
	}
	return typster.New(ctx, typster.Config{
		Engine:             engineOverride,
		Executable:         cfg.Engine.Binary,
		EngineTimeout:      cfg.Engine.Timeout,
		Packages:           cache,
		IncludeSystemFonts: cfg.Fonts.System,
		FontDirs:           cfg.Fonts.Paths,
		Logger:             logger,
	})
}

// bindFlags binds flags of cmd to config keys. It runs from PreRunE so
// that commands sharing a key do not overwrite each other's binding.
func bindFlags(keys map[string]string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		for flag, key := range keys {
			if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("binding --%s: %w", flag, err)
			}
		}
		return nil
	}
}
