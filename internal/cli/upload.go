package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	uploadNoWait bool
	uploadOutput string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.csv>",
	Short: "Submit a co-occurrence CSV for processing",
	Long: `Submit a co-occurrence CSV upload. The server merges the upload's pair
counts into the durable aggregates, recomputes statistics and classifies
newly seen pairs, then renders the enriched CSV.

By default the command waits and shows job progress. Use --no-wait to
return immediately after submission.

Examples:
  clinrel upload visits.csv
  clinrel upload visits.csv -o enriched.csv
  clinrel upload visits.csv --no-wait`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadNoWait, "no-wait", false, "return immediately after submitting")
	uploadCmd.Flags().StringVarP(&uploadOutput, "output", "o", "", "write the enriched CSV here once the job completes")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := apiClient()

	job, err := c.Upload(ctx, args[0])
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	fmt.Printf("Job %s queued (%s)\n", job.ID, job.OriginalName)

	if uploadNoWait {
		fmt.Printf("Use 'clinrel jobs %s' to check status.\n", job.ID)
		return nil
	}

	final, err := RunJobProgress(c, job)
	if err != nil {
		return err
	}
	if final == nil {
		// User backgrounded the job; nothing more to do here.
		return nil
	}

	if uploadOutput != "" {
		f, err := os.Create(uploadOutput)
		if err != nil {
			exitWithError("create output file: %v", err)
		}
		defer f.Close()

		if err := c.DownloadOutput(ctx, final.ID, f); err != nil {
			return fmt.Errorf("download output: %w", err)
		}
		fmt.Printf("Enriched CSV written to %s\n", uploadOutput)
	}

	return nil
}
