package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vectorsync-ai/vectorsync/internal/schema"
)

func newInstallCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install or upgrade the ai catalog schema",
		Long: `Install applies the embedded schema migrations that create the ai schema,
the vectorizer catalog, the worker registry, and the semantic catalog
tables. Running it again applies only what is missing.

The pgvector extension must be installed first (CREATE EXTENSION vector).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			inst := schema.NewInstaller(db, logger)

			if dryRun {
				status, err := inst.Status(ctx)
				if err != nil {
					return err
				}
				if outputJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]interface{}{
						"upToDate": status.UpToDate(),
						"applied":  status.Applied,
						"pending":  status.Pending,
					})
				}
				ui := NewUI(outputJSON)
				if status.UpToDate() {
					ui.Success("Schema is up to date (%d migrations)", len(status.Applied))
					return nil
				}
				ui.Warning("%d migrations pending:", len(status.Pending))
				for _, name := range status.Pending {
					ui.KeyValue("pending", name)
				}
				return nil
			}

			if err := inst.Apply(ctx); err != nil {
				return err
			}

			if outputJSON {
				os.Stdout.WriteString(`{"status": "ok"}` + "\n")
				return nil
			}
			NewUI(outputJSON).Success("Schema installed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report pending migrations without applying them")
	return cmd
}
