// Package cmd holds the chainhunt command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chainhunt",
	Short: "Assassination-chain session server",
	Long: `chainhunt runs an elimination game session: every active participant
hunts exactly one other, and all targets form a single cycle that is
repaired as players are eliminated, join, or leave.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (YAML); CHAINHUNT_* env vars override it")
}
