package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vectorsync-ai/vectorsync/internal/catalog"
	"github.com/vectorsync-ai/vectorsync/internal/embedding"
	"github.com/vectorsync-ai/vectorsync/internal/secrets"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// catalogEmbedFlags selects the embedding model used for catalog rows.
type catalogEmbedFlags struct {
	provider   string
	model      string
	dimensions int
}

func (f *catalogEmbedFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "emb-provider", "", "embedding provider override (openai, ollama, voyageai)")
	cmd.Flags().StringVar(&f.model, "emb-model", "", "embedding model override")
	cmd.Flags().IntVar(&f.dimensions, "emb-dimensions", 0, "embedding dimensions override")
}

// buildEmbedder resolves the provider API key and constructs the embedding
// client used for catalog descriptions. Unset flags fall back to the
// configured embedding section.
func (f *catalogEmbedFlags) buildEmbedder(ctx context.Context, db *sql.DB) (embedding.Provider, error) {
	ecfg := vectorizer.EmbeddingConfig{
		Implementation: cfg.Embedding.Provider,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
	}
	if f.provider != "" {
		ecfg.Implementation = f.provider
	}
	if f.model != "" {
		ecfg.Model = f.model
	}
	if f.dimensions > 0 {
		ecfg.Dimensions = f.dimensions
	}

	var apiKey string
	keyName := providerKeyName(ecfg.Implementation)
	if keyName != "" {
		resolver := secrets.NewDBResolver(db)
		key, err := resolver.Resolve(ctx, "", keyName, "")
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", keyName, err)
		}
		apiKey = key
	}

	return embedding.New(ecfg, apiKey, 2*time.Minute)
}

func providerKeyName(provider string) string {
	switch provider {
	case vectorizer.EmbeddingOpenAI:
		return "OPENAI_API_KEY"
	case vectorizer.EmbeddingVoyageAI:
		return "VOYAGE_API_KEY"
	}
	return ""
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the semantic catalog",
	}
	cmd.AddCommand(newCatalogDescribeCmd())
	cmd.AddCommand(newCatalogAddSQLCmd())
	cmd.AddCommand(newCatalogVectorizeCmd())
	cmd.AddCommand(newCatalogPostRestoreCmd())
	return cmd
}

func newCatalogDescribeCmd() *cobra.Command {
	var (
		classid     int64
		objid       int64
		objsubid    int32
		description string
		embFlags    catalogEmbedFlags
	)

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Set the description of a database object",
		Long: `Describe upserts a natural-language description for the object identified
by its (classid, objid, objsubid) triple, embedding it for retrieval.

Find the triple with e.g.:
  SELECT 'pg_class'::regclass::oid, 'public.posts'::regclass::oid, 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			embedder, err := embFlags.buildEmbedder(ctx, db)
			if err != nil {
				return err
			}

			repo := catalog.NewRepository(db, embedder)
			obj, err := repo.SetDescription(ctx, classid, objid, objsubid, description)
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"id":      obj.ID,
					"objtype": obj.ObjType,
					"name":    strings.Join(obj.ObjNames, "."),
				})
			}
			NewUI(outputJSON).Success("Described %s %s (catalog id %d)",
				obj.ObjType, strings.Join(obj.ObjNames, "."), obj.ID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&classid, "classid", 0, "pg_depend classid of the object (required)")
	cmd.Flags().Int64Var(&objid, "objid", 0, "oid of the object (required)")
	cmd.Flags().Int32Var(&objsubid, "objsubid", 0, "column number, 0 for the object itself")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description text (required)")
	embFlags.register(cmd)

	_ = cmd.MarkFlagRequired("classid")
	_ = cmd.MarkFlagRequired("objid")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}

func newCatalogAddSQLCmd() *cobra.Command {
	var (
		sqlText     string
		sqlFile     string
		description string
		embFlags    catalogEmbedFlags
	)

	cmd := &cobra.Command{
		Use:   "add-sql",
		Short: "Add an example SQL statement to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if sqlText == "" && sqlFile == "" {
				return fmt.Errorf("either --sql or --file is required")
			}
			if sqlText == "" {
				data, err := os.ReadFile(sqlFile)
				if err != nil {
					return fmt.Errorf("read sql file: %w", err)
				}
				sqlText = strings.TrimSpace(string(data))
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			embedder, err := embFlags.buildEmbedder(ctx, db)
			if err != nil {
				return err
			}

			repo := catalog.NewRepository(db, embedder)
			ex, err := repo.AddSQLExample(ctx, sqlText, description)
			if err != nil {
				return err
			}

			if outputJSON {
				fmt.Printf("{\"id\": %d}\n", ex.ID)
				return nil
			}
			NewUI(outputJSON).Success("Added SQL example %d", ex.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sqlText, "sql", "", "the SQL statement")
	cmd.Flags().StringVarP(&sqlFile, "file", "f", "", "file containing the SQL statement")
	cmd.Flags().StringVarP(&description, "description", "d", "", "what the statement answers (required)")
	embFlags.register(cmd)

	_ = cmd.MarkFlagRequired("description")

	return cmd
}

func newCatalogVectorizeCmd() *cobra.Command {
	var (
		batchSize int
		embFlags  catalogEmbedFlags
	)

	cmd := &cobra.Command{
		Use:   "vectorize",
		Short: "Embed catalog rows that are missing embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			embedder, err := embFlags.buildEmbedder(ctx, db)
			if err != nil {
				return err
			}

			ui := NewUI(outputJSON)
			stop := ui.Spinner("Embedding catalog rows")
			repo := catalog.NewRepository(db, embedder)
			n, err := repo.EmbedMissing(ctx, batchSize)
			stop()
			if err != nil {
				return err
			}

			if outputJSON {
				fmt.Printf("{\"embedded\": %d}\n", n)
				return nil
			}
			ui.Success("Embedded %d catalog rows", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "rows per embedding request")
	embFlags.register(cmd)

	return cmd
}

func newCatalogPostRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post-restore",
		Short: "Re-resolve catalog oids after a dump/restore",
		Long: `Restoring a dump assigns new oids to every object. Post-restore walks the
semantic catalog and re-resolves each row's oid triple from its stable
address. Rows whose objects no longer exist are reported and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			m := catalog.NewMaintainer(db, logger)
			if err := m.PostRestore(ctx); err != nil {
				return err
			}

			NewUI(outputJSON).Success("Semantic catalog realigned")
			if outputJSON {
				fmt.Println(`{"status": "ok"}`)
			}
			return nil
		},
	}
	return cmd
}
