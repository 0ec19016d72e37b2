// Package cli provides the operator command-line interface for timecapsule.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/timmy/timecapsule/internal/config"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/repository"
	"github.com/timmy/timecapsule/internal/storage"
	"gorm.io/gorm"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Initialized by the root pre-run hook
	cfg       *config.Config
	db        *gorm.DB
	ledger    *repository.GenerationRepository
	appLogger *logger.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "capsule",
	Short: "Operate the time capsule portrait generator",
	Long: `capsule inspects and maintains the generation ledger, and can run a
portrait through every decade locally without the HTTP server.

Configuration is read the same way as the API server: config.yaml,
.env and environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		appLogger = logger.New(&logger.Config{
			Level:       level,
			Format:      "text",
			Output:      os.Stderr,
			ServiceName: "capsule",
		})
		logger.SetDefaultLogger(appLogger)

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err = repository.InitDB(&cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		ledger = repository.NewGenerationRepository(db)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db == nil {
			return
		}
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(generateCmd)
}

// openStorage builds the configured object store.
func openStorage() (storage.ObjectStorage, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
}
