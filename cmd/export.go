package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/mnemo/pkg/stores/s3"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Snapshot a user's memories to S3-compatible storage as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine()

		if err != nil {
			return err
		}

		defer e.Close()

		conn, err := s3.NewConn(e.cfg.Export)

		if err != nil {
			return err
		}

		if err := conn.EnsureBucket(cmd.Context(), e.cfg.Export.Bucket); err != nil {
			return err
		}

		key, count, err := s3.NewExporter(conn, e.store, e.cfg.Export.Bucket).Export(
			cmd.Context(), scopeFlags(cmd),
		)

		if err != nil {
			return err
		}

		log.Info("export written", "bucket", e.cfg.Export.Bucket, "key", key, "records", count)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("user", "u", "", "User to export")
	exportCmd.Flags().StringP("persona", "P", "default", "Persona to export")
	exportCmd.MarkFlagRequired("user")
}
