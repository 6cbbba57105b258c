package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinrel/clinrel-go/internal/config"
	"github.com/clinrel/clinrel-go/internal/db"
)

var cacheMaxAge time.Duration

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the classification cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached classifier responses older than the max age",
	Long: `Delete cached classifier responses older than the configured max age.
Pairs already classified keep their stored relationship; pruning only
means a future classification of the same prompt pays for a fresh call.`,
	RunE: runCachePrune,
}

func init() {
	cachePruneCmd.Flags().DurationVar(&cacheMaxAge, "max-age", 0, "prune entries older than this (default from config)")
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	maxAge := cacheMaxAge
	if maxAge <= 0 {
		maxAge = cfg.CacheMaxAge
	}

	ctx := context.Background()
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, nil)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbClient.Close(context.Background())

	pruned, err := dbClient.PruneCache(ctx, maxAge)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}

	fmt.Printf("Pruned %d cache entries older than %s\n", pruned, maxAge)
	return nil
}
