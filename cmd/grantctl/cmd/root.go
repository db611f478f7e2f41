package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pilab-dev/grantd/config"
	"github.com/pilab-dev/grantd/domain"
	"github.com/pilab-dev/grantd/log"
	"github.com/pilab-dev/grantd/mongodb"
)

var (
	appLogger log.Logger
	cfg       *config.ServerConfig
)

var rootCmd = &cobra.Command{
	Use:   "grantctl",
	Short: "grantctl is a CLI tool for administering the grantd server",
	Long:  `A command-line interface for managing OAuth2 clients and persisted grants against the grantd storage backend.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appLogger = log.NewZerologAdapter(zerolog.WarnLevel, true)

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			appLogger.Error(cmd.Context(), "Failed to load configuration", err)
		}
		return err
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// connectStores opens the configured storage backend. grantctl is an
// operator tool, so only the durable backend makes sense here.
func connectStores(ctx context.Context) (domain.GrantRecordStore, domain.ClientRepository, func(context.Context), error) {
	if cfg.Storage != config.StorageMongo {
		return nil, nil, nil, fmt.Errorf("grantctl requires STORAGE=mongo, got %q", cfg.Storage)
	}

	client, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	cleanup := func(shutdownCtx context.Context) {
		_ = client.Disconnect(shutdownCtx)
	}
	return mongodb.NewGrantRepository(db), mongodb.NewClientRepository(db), cleanup, nil
}
