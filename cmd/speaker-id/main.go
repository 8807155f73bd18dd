package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/snarg/speaker-id/internal/config"
)

var version = "dev"

// flags holds the persistent flag values; non-empty values override config.
var flags config.Overrides

var rootCmd = &cobra.Command{
	Use:     "speaker-id",
	Short:   "Speaker enrollment and identification service",
	Version: version,
	Long: `speaker-id enrolls speakers from short voice samples and identifies
who is speaking in a new recording.

Run without a subcommand to start the HTTP service.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.EnvFile, "env-file", "", "path to .env file (default .env)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.StoreFile, "store-file", "", "persisted speaker store document")
	pf.StringVar(&flags.SamplesDir, "samples-dir", "", "directory for enrollment samples")
	pf.StringVar(&flags.HTTPAddr, "http-addr", "", "HTTP listen address")
	pf.StringVar(&flags.DatabaseURL, "database-url", "", "Postgres URL; stores the speaker document in the database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
