package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clinrel/clinrel-go/internal/blob"
	"github.com/clinrel/clinrel-go/internal/config"
	"github.com/clinrel/clinrel-go/internal/db"
	"github.com/clinrel/clinrel-go/internal/metrics"
	"github.com/clinrel/clinrel-go/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload and job API server",
	Long: `Run the HTTP API server. The server accepts uploads, exposes job
status and artifacts, and streams job progress over websockets. Jobs
are processed by separate workers (see 'clinrel work').`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbClient.Close(context.Background())

	if err := dbClient.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	blobs, err := blob.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer blobs.Close()

	addr := serveAddr
	if addr == "" {
		addr = cfg.ServerAddr
	}

	srv := server.New(addr, dbClient, blobs, metrics.NewCollector(), logger)
	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		return err
	}

	logger.Info("server stopped")
	return nil
}
