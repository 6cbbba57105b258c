package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var downloadSnapshot bool

var downloadCmd = &cobra.Command{
	Use:   "download <job-id> <dest.csv>",
	Short: "Download a job's enriched CSV or pair snapshot",
	Long: `Download a completed job's artifact. By default this fetches the
enriched upload CSV; --snapshot fetches the full pair snapshot with the
merged counts, statistics and classifications for every pair the upload
touched.

Examples:
  clinrel download abc123 enriched.csv
  clinrel download abc123 pairs.csv --snapshot`,
	Args: cobra.ExactArgs(2),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadSnapshot, "snapshot", false, "download the pair snapshot instead of the enriched CSV")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, dest := args[0], args[1]

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer f.Close()

	c := apiClient()
	if downloadSnapshot {
		err = c.DownloadSnapshot(ctx, id, f)
	} else {
		err = c.DownloadOutput(ctx, id, f)
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("download artifact: %w", err)
	}

	fmt.Printf("Artifact written to %s\n", dest)
	return nil
}
