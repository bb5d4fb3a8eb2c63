package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/procedo/internal/common"
	repo "github.com/joseph-ayodele/procedo/internal/repository"
)

var (
	orgID  string
	dbURL  string
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "procedoctl",
	Short:         "Administer the procedo database, rules and history",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization id")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "database url (overrides DB_URL)")

	rootCmd.AddCommand(migrateCmd, dbhealthCmd, rulesCmd, historyCmd, exportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*common.Config, error) {
	cfg := common.LoadConfig()
	if dbURL != "" {
		cfg.Database.DSN = dbURL
	}
	if cfg.Database.DSN == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "DB_URL is required", common.ErrInvalidInput)
	}
	return cfg, nil
}

func openDB(ctx context.Context, cfg *common.Config) (*repo.DB, error) {
	db, err := repo.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening DB: %w", err)
	}
	return db, nil
}

func requireOrg() error {
	if orgID == "" {
		return common.NewAppError("MISSING_ORG", "--org is required", common.ErrInvalidInput)
	}
	return nil
}
