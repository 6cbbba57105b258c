package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinrel/clinrel-go/internal/blob"
	"github.com/clinrel/clinrel-go/internal/classify"
	"github.com/clinrel/clinrel-go/internal/config"
	"github.com/clinrel/clinrel-go/internal/db"
	"github.com/clinrel/clinrel-go/internal/llm"
	"github.com/clinrel/clinrel-go/internal/metrics"
	"github.com/clinrel/clinrel-go/internal/worker"
)

var workPollInterval time.Duration

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run a job processing worker",
	Long: `Run a worker that polls for queued upload jobs and processes them:
parse, merge counts, recompute statistics, classify new pairs and
render the output artifacts. Multiple workers can run against the same
database; the claim step guarantees each job runs exactly once.`,
	RunE: runWork,
}

func init() {
	workCmd.Flags().DurationVar(&workPollInterval, "poll-interval", 2*time.Second, "queue poll interval")
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
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

	model, err := llm.NewModel(cfg)
	if err != nil {
		return fmt.Errorf("init classifier model: %w", err)
	}

	classifier := classify.NewClassifier(model, dbClient.CacheStore(), logger)
	batchOpts := classify.BatchOptions{
		BatchSize:   cfg.ClassifyBatchSize,
		Concurrency: cfg.ClassifyConcurrency,
		MaxAttempts: cfg.ClassifyMaxAttempts,
		CallBudget:  cfg.ClassifyCallBudget,
	}

	w := worker.New(dbClient, dbClient, blobs, classifier, batchOpts, metrics.NewCollector(), logger)

	logger.Info("worker started", "poll_interval", workPollInterval.String(), "model", model.Model())
	if err := w.Run(ctx, workPollInterval); err != nil && err != context.Canceled {
		return err
	}

	logger.Info("worker stopped")
	return nil
}
