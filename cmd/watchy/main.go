package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "watchy",
		Short: "Resolve magnets through AllDebrid and download the direct links",
		Long: `watchy exchanges magnet links for cached direct links through AllDebrid,
downloads them with at most three concurrent transfers and keeps a download history.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file (defaults to ./config.yaml when present)")

	rootCmd.AddCommand(
		newServeCmd(),
		newResolveCmd(),
		newDownloadCmd(),
		newHistoryCmd(),
		newWatchedCmd(),
		newLibraryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
