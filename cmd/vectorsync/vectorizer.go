package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vectorsync-ai/vectorsync/internal/registry"
	"github.com/vectorsync-ai/vectorsync/internal/scheduler"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

func newVectorizerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vectorizer",
		Short: "Manage vectorizers",
	}
	cmd.AddCommand(newVectorizerCreateCmd())
	cmd.AddCommand(newVectorizerDropCmd())
	cmd.AddCommand(newVectorizerListCmd())
	cmd.AddCommand(newVectorizerStatusCmd())
	return cmd
}

func newVectorizerCreateCmd() *cobra.Command {
	var (
		schema     string
		table      string
		configPath string
		enqueue    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a vectorizer on a source table",
		Long: `Create validates the configuration document, provisions the embedding
store, queue table, trigger, and join view, and records the vectorizer.
Only the owner of the source table may create vectorizers on it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read vectorizer config: %w", err)
			}
			vcfg, err := vectorizer.ParseConfig(data)
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var sched vectorizer.JobScheduler
			if vcfg.Scheduling.Implementation == vectorizer.SchedulingTimescaleDB {
				ok, err := scheduler.Available(ctx, db)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("scheduling=timescaledb requires the timescaledb extension")
				}
				sched = scheduler.NewTimescaleScheduler(logger)
			}

			p := vectorizer.NewProvisioner(db, sched, logger)
			v, err := p.Create(ctx, vectorizer.CreateRequest{
				SourceSchema:    schema,
				SourceTable:     table,
				Config:          vcfg,
				EnqueueExisting: enqueue,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"id":     v.ID,
					"source": v.SourceSchema + "." + v.SourceTable,
					"target": v.TargetSchema + "." + v.TargetTable,
					"view":   v.ViewSchema + "." + v.ViewName,
					"queue":  v.QueueSchema + "." + v.QueueTable,
				})
			}

			ui := NewUI(outputJSON)
			ui.Success("Created vectorizer %d on %s.%s", v.ID, v.SourceSchema, v.SourceTable)
			ui.KeyValue("target", v.TargetSchema+"."+v.TargetTable)
			if v.ViewName != "" {
				ui.KeyValue("view", v.ViewSchema+"."+v.ViewName)
			}
			ui.KeyValue("queue", v.QueueSchema+"."+v.QueueTable)
			return nil
		},
	}

	cmd.Flags().StringVar(&schema, "schema", "public", "source table schema")
	cmd.Flags().StringVar(&table, "table", "", "source table name (required)")
	cmd.Flags().StringVarP(&configPath, "file", "f", "", "vectorizer config document, JSON (required)")
	cmd.Flags().BoolVar(&enqueue, "enqueue-existing", true, "enqueue all existing source rows")

	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newVectorizerDropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop <id>",
		Short: "Drop a vectorizer",
		Long: `Drop removes the trigger, queue table, and scheduler job of a vectorizer.
The embedding store and join view are kept since they may hold user data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			id, err := parseVectorizerID(args[0])
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			p := vectorizer.NewProvisioner(db, scheduler.NewTimescaleScheduler(logger), logger)
			if err := p.Drop(ctx, id); err != nil {
				return err
			}

			NewUI(outputJSON).Success("Dropped vectorizer %d", id)
			if outputJSON {
				fmt.Printf("{\"dropped\": %d}\n", id)
			}
			return nil
		},
	}
	return cmd
}

func newVectorizerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vectorizers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := vectorizer.NewRepository(db).List(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				out := make([]map[string]interface{}, 0, len(list))
				for _, v := range list {
					out = append(out, map[string]interface{}{
						"id":        v.ID,
						"source":    v.SourceSchema + "." + v.SourceTable,
						"target":    v.TargetSchema + "." + v.TargetTable,
						"embedding": v.Config.Embedding.Implementation + "/" + v.Config.Embedding.Model,
					})
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			rows := make([][]string, 0, len(list))
			for _, v := range list {
				rows = append(rows, []string{
					strconv.Itoa(int(v.ID)),
					v.SourceSchema + "." + v.SourceTable,
					v.TargetSchema + "." + v.TargetTable,
					v.Config.Embedding.Implementation + "/" + v.Config.Embedding.Model,
				})
			}
			NewUI(outputJSON).Table([]string{"ID", "SOURCE", "TARGET", "EMBEDDING"}, rows)
			return nil
		},
	}
	return cmd
}

func newVectorizerStatusCmd() *cobra.Command {
	var exact bool

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show queue depth and worker progress for a vectorizer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			id, err := parseVectorizerID(args[0])
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := vectorizer.NewRepository(db).Get(ctx, id)
			if err != nil {
				return err
			}

			reg := registry.NewRepository(db)
			pending, capped, err := reg.QueuePending(ctx, v, exact)
			if err != nil {
				return err
			}
			progress, err := reg.GetProgress(ctx, id)
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"id":             v.ID,
					"source":         v.SourceSchema + "." + v.SourceTable,
					"pending":        pending,
					"pending_capped": capped,
					"success_count":  progress.SuccessCount,
					"error_count":    progress.ErrorCount,
					"last_error":     progress.LastErrorMessage,
				})
			}

			ui := NewUI(outputJSON)
			ui.KeyValue("source", v.SourceSchema+"."+v.SourceTable)
			depth := strconv.FormatInt(pending, 10)
			if capped {
				depth = ">= " + depth
			}
			ui.KeyValue("pending", depth)
			ui.KeyValue("successes", progress.SuccessCount)
			ui.KeyValue("errors", progress.ErrorCount)
			if progress.LastErrorMessage != "" {
				ui.KeyValue("last error", progress.LastErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&exact, "exact", false, "count the full queue instead of capping at 10000")
	return cmd
}

func parseVectorizerID(arg string) (int32, error) {
	id, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid vectorizer id %q", arg)
	}
	return int32(id), nil
}
