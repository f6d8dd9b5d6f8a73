package cmd

import (
	"github.com/spf13/cobra"

	"tripsync/config"
	"tripsync/logging"
)

var RootCmd = &cobra.Command{
	Use:   "tripsync",
	Short: "shared trip expenses and playlists",
	Long: `tripsync keeps a group's trip expenses, balances and playlist in shared documents.
It serves the HTTP API, settles expense CSVs offline and manages the database schema.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// LOG_LEVEL may come from .env
		config.LoadDotEnv()
		logging.Setup()
	},
}

func init() {
	RootCmd.AddCommand(settleCmd())
	RootCmd.AddCommand(serverCommand())
	RootCmd.AddCommand(migrateCommand())
	RootCmd.AddCommand(tokenCommand())
}
