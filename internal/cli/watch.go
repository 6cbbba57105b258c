package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clinrel/clinrel-go/internal/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Stream live progress for a job",
	Long: `Stream a job's progress over the server's websocket endpoint, printing
each update until the job reaches a terminal status.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var last client.Job
	err := apiClient().WatchJob(ctx, args[0], func(job client.Job) error {
		fmt.Printf("[%s] %d/%d rows\n", job.Status, job.RowsProcessed, job.RowsTotal)
		last = job
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch job: %w", err)
	}

	if last.Status == "failed" && last.Error != nil {
		return fmt.Errorf("job failed: %s", *last.Error)
	}
	return nil
}
