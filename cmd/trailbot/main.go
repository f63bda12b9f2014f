// Command trailbot is the backend entry point for the trailing take-profit
// bot. It loads configuration, validates it, sets up signal handling, and
// starts the application in the configured mode.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/trailbot/internal/app"
	"github.com/alanyoungcy/trailbot/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "trailbot",
		Short:         "Trailing take-profit bot for spot positions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot in the configured mode",
			RunE:  runBot,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration with secrets redacted",
			RunE:  runShowConfig,
		},
		newCredentialsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newCredentialsCmd() *cobra.Command {
	var owner, apiKey, apiSecret string

	link := &cobra.Command{
		Use:   "link",
		Short: "Encrypt and store exchange API credentials for an owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if apiSecret == "" {
				apiSecret = os.Getenv("TRAILBOT_API_SECRET")
			}
			if err := app.LinkCredentials(cmd.Context(), cfg, logger, owner, apiKey, apiSecret); err != nil {
				return err
			}
			logger.Info("credentials linked", slog.String("owner_id", owner))
			return nil
		},
	}
	link.Flags().StringVar(&owner, "owner", "", "owner id")
	link.Flags().StringVar(&apiKey, "api-key", "", "exchange API key")
	link.Flags().StringVar(&apiSecret, "api-secret", "", "exchange API secret (default $TRAILBOT_API_SECRET)")
	_ = link.MarkFlagRequired("owner")
	_ = link.MarkFlagRequired("api-key")

	creds := &cobra.Command{
		Use:   "credentials",
		Short: "Manage owner exchange credentials",
	}
	creds.AddCommand(link)
	return creds
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("trailbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("trailbot stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := app.Migrate(cmd.Context(), cfg); err != nil {
		return err
	}
	logger.Info("migrations applied", slog.String("driver", cfg.Store.Driver))
	return nil
}

func runShowConfig(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(config.RedactedConfig(cfg))
}

// loadConfig reads and validates the configuration and returns a JSON logger
// at the configured level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
