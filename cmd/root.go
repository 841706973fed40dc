package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when toolgate is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Aggregate many tool servers behind one resilient endpoint",
	Long: `toolgate sits between one upstream client and many backend tool
servers. It keeps every backend connection alive with automatic
reconnection, aggregates the backends' tools under backend-prefixed
names, and filters which tools are exposed.`,
	// SilenceUsage keeps handled errors from dumping the usage text.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with
// the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newVersionCmd())
}
