package main

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "openpadcore",
	Short: "Lifecycle orchestrator for cloud phone fleets",
	Long: `openpadcore resets, installs, roots, localizes and starts the configured cloud phones,
driven by the provider's task callbacks, and re-provisions every phone that fails or stalls.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, true)
	},
}

var rootConfigPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newResetCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads .env and the config file and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	envPath, envErr := config.LoadDotEnv()

	cfg, err := config.Load(rootConfigPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	if envErr != nil {
		logger.Warn("failed to load .env", zap.Error(envErr))
	} else if envPath != "" {
		logger.Info(".env loaded", zap.String("path", envPath))
	}
	logger.Info("config loaded", zap.String("path", rootConfigPath))
	return cfg, logger, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging.level: %w", err)
		}
		zc.Level = level
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
