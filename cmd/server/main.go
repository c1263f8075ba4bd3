// Command sle-predictor serves the SLE prediction API and manages its history
// database.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sle-predictor-server/internal/config"
)

// app carries what every subcommand needs once the root command has run.
type app struct {
	configFile string
	envFile    string

	config *config.Manager
	logger *logrus.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "sle-predictor",
		Short:         "SLE diagnosis and flare risk prediction server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "path to config file (default: search for config.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(a.serveCmd())
	rootCmd.AddCommand(a.migrateCmd())
	rootCmd.AddCommand(a.historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", a.envFile, err)
		}
	}

	manager, err := config.NewManager(a.configFile)
	if err != nil {
		return err
	}
	if err := manager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := logrus.New()
	if err := applyLogging(logger, manager.GetConfig().Logging); err != nil {
		return err
	}

	a.config = manager
	a.logger = logger
	return nil
}
