package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed every stored record that has no vector yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine()

		if err != nil {
			return err
		}

		defer e.Close()

		stats, err := e.backfill.RunOnce(cmd.Context())

		log.Info("backfill finished", "embedded", stats.Embedded, "failed", stats.Failed)

		return err
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}
