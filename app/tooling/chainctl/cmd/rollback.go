package cmd

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
)

var (
	rollbackBlocks uint64
	pruneBlocks    uint64
)

// rollbackCmd represents the rollback command
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert blocks from the top of the chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlocks(cmd, "/v1/sync/rollback", rollbackBlocks)
	},
}

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete blocks from the top of storage without reverting them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlocks(cmd, "/v1/sync/prune", pruneBlocks)
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().Uint64VarP(&rollbackBlocks, "blocks", "b", 0, "Number of blocks to revert.")

	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().Uint64VarP(&pruneBlocks, "blocks", "b", 0, "Number of blocks to delete.")
}

func runBlocks(cmd *cobra.Command, path string, blocks uint64) error {
	if blocks == 0 {
		return errors.New("--blocks must be greater than zero")
	}

	url, err := nodeURL()
	if err != nil {
		return err
	}

	req := struct {
		Blocks uint64 `json:"blocks"`
	}{
		Blocks: blocks,
	}

	var st syncer.Status
	if err := send(http.MethodPost, url+path, req, &st); err != nil {
		return err
	}

	printStatus(cmd.OutOrStdout(), st)
	return nil
}
