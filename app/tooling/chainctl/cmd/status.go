package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the sync process",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := nodeURL()
		if err != nil {
			return err
		}

		var st syncer.Status
		if err := send(http.MethodGet, url+"/v1/sync/status", nil, &st); err != nil {
			return err
		}

		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
