// README: Root cobra command; registers serve, migrate and bench.
package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:          "dispatchd",
	Short:        "Courier dispatch engine",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
