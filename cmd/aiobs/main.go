package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmcmaster1/ai-observability-tool/internal/config"
	"github.com/cmcmaster1/ai-observability-tool/internal/observer"
	"github.com/cmcmaster1/ai-observability-tool/internal/sanitize"
	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "aiobs",
	Short:         "Local observability for AI agent crews",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and installs the default slog handler at
// the configured level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

// withStore loads the config, opens the store, and closes it after fn.
func withStore(fn func(cfg config.Config, store *storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()
	return fn(cfg, store)
}

// newObserver builds the Observer described by cfg.
func newObserver(cfg config.Config, store *storage.Store) (*observer.Observer, error) {
	san, err := sanitize.FromSettings(cfg.Sanitizer.NamePattern, cfg.Sanitizer.DetectNames)
	if err != nil {
		return nil, fmt.Errorf("building sanitizer: %w", err)
	}
	return observer.New(store, observer.Options{
		Project:          cfg.Observer.Project,
		Sanitizer:        san,
		Logger:           slog.Default().With("component", "observer"),
		MaxContentLength: cfg.Observer.MaxContentLength,
	}), nil
}
