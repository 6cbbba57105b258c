package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinrel/clinrel-go/internal/client"
)

var jobsOwner string

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect upload jobs",
	Long: `List upload jobs or inspect a specific job by ID.

Examples:
  clinrel jobs                    # List recent jobs
  clinrel jobs --owner clinic-1   # List jobs for one owner
  clinrel jobs abc123             # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsOwner, "owner", "", "filter by owner ID")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient().ListJobs(ctx, jobsOwner)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-12s %-12s %-10s %s\n", "ID", "OWNER", "STATUS", "ROWS", "FILE")
	fmt.Println("--------------------------------------------------------------------------------------")

	for _, job := range jobs {
		rows := ""
		if job.RowsTotal > 0 {
			rows = fmt.Sprintf("%d/%d", job.RowsProcessed, job.RowsTotal)
		}
		fmt.Printf("%-38s %-12s %-12s %-10s %s\n", job.ID, job.OwnerID, job.Status, rows, job.OriginalName)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient().GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	printJob(job)
	return nil
}

func printJob(job *client.Job) {
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Owner: %s\n", job.OwnerID)
	fmt.Printf("  File: %s\n", job.OriginalName)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.RowsTotal > 0 {
		fmt.Printf("  Rows: %d/%d\n", job.RowsProcessed, job.RowsTotal)
	}
	if job.TokensIn > 0 || job.TokensOut > 0 {
		fmt.Printf("  Tokens: %d in / %d out\n", job.TokensIn, job.TokensOut)
	}
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", job.FinishedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", job.FinishedAt.Sub(*job.StartedAt).Round(time.Second))
		}
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Printf("  Error: %s\n", *job.Error)
	}
}
