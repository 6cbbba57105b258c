// Package cli provides the command-line interface for clinrel.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinrel/clinrel-go/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "clinrel",
	Short: "Clinical concept pair co-occurrence aggregation",
	Long: `Clinrel aggregates clinical concept pair co-occurrence counts across
uploads, recomputes association statistics from the merged totals, and
classifies each pair's relationship once using a cached LLM call.

Uploads are processed as background jobs on the server; this CLI submits
uploads, watches job progress and fetches the enriched artifacts.`,
	Version: Version,
}

// apiClient returns a client for the configured server.
func apiClient() *client.Client {
	return client.New(serverURL)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default $CLINREL_SERVER_URL or http://localhost:8486)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
