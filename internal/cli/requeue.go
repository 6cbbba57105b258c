package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Reset a job back to queued",
	Long: `Reset a job back to queued so a worker processes its upload again.
Any status is accepted: requeueing a job stuck in running after a worker
crash is the intended recovery path. Counts already merged by a previous
run stay merged; requeueing only resets the job record itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
	job, err := apiClient().RequeueJob(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}

	fmt.Printf("Job %s requeued\n", job.ID)
	return nil
}
