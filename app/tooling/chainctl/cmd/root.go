// Package cmd contains the chainctl commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "chainctl",
	Short:         "Inspect and steer the sync process of a node",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("url", "u", "http://localhost:9080", "Url of the node private api.")
}

func nodeURL() (string, error) {
	return rootCmd.PersistentFlags().GetString("url")
}
