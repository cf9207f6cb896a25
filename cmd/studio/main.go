package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/marriagesignal/studio/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Marriage Signal studio: drama timelines, generation and preview",
	Long: `studio runs the local Marriage Signal service: a project library with
auto-timed cut timelines, a generation queue for stories, images and speech,
and a playback preview. The file commands work on project documents
without a running service.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(serveHeadless)
	},
}

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("studio {{.Version}} (commit %s, built %s)\n", config.GitCommit, config.BuildTime))
	rootCmd.Flags().BoolVar(&serveHeadless, "headless", false, "run without the system tray")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(timingCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(migrateCmd)
}
