package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vectorsync-ai/vectorsync/internal/agent"
	"github.com/vectorsync-ai/vectorsync/internal/cache"
	"github.com/vectorsync-ai/vectorsync/internal/catalog"
	"github.com/vectorsync-ai/vectorsync/internal/config"
	"github.com/vectorsync-ai/vectorsync/internal/llm"
	"github.com/vectorsync-ai/vectorsync/internal/secrets"
	"github.com/vectorsync-ai/vectorsync/internal/validator"
)

func newAskCmd() *cobra.Command {
	var (
		entireSchema bool
		onlyObjects  []string
		maxIter      int
		embFlags     catalogEmbedFlags
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with a validated SQL statement",
		Long: `Ask embeds the question, retrieves semantic catalog context, and converses
with the configured model until it produces a SQL statement that passes
plan validation. The statement is printed; it is never executed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Agent.Timeout)
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

			chat, err := buildChatProvider(ctx, db, cfg)
			if err != nil {
				return err
			}

			embCache, closeCache := buildEmbeddingCache(cfg)
			defer closeCache()

			acfg := agent.Config{
				MaxIterations:       cfg.Agent.MaxIterations,
				MaxResults:          cfg.Agent.MaxResults,
				MaxVectorDist:       cfg.Agent.MaxVectorDist,
				SearchPath:          cfg.Agent.SearchPath,
				IncludeEntireSchema: entireSchema,
				OnlyTheseObjects:    onlyObjects,
			}
			if maxIter > 0 {
				acfg.MaxIterations = maxIter
			}

			a := agent.New(
				catalog.NewRepository(db, embedder),
				embedder, embCache, chat,
				validator.New(db), acfg, logger,
			)

			ui := NewUI(outputJSON)
			stop := ui.Spinner("Thinking")
			res, err := a.Run(ctx, question)
			stop()
			if err != nil {
				return err
			}

			if res.SQLStatement == "" {
				if outputJSON {
					fmt.Printf("{\"answered\": false, \"iterations\": %d}\n", res.Iterations)
					return nil
				}
				ui.Warning("No valid SQL statement after %d iterations", res.Iterations)
				return nil
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"sql":          res.SQLStatement,
					"command_type": res.CommandType,
					"iterations":   res.Iterations,
					"est_cost":     res.EstCost,
					"est_rows":     res.EstRows,
				})
			}

			fmt.Println(res.SQLStatement)
			ui.KeyValue("command", res.CommandType)
			ui.KeyValue("iterations", res.Iterations)
			if res.QueryPlan != nil {
				ui.KeyValue("est. cost", fmt.Sprintf("%.2f", res.EstCost))
				ui.KeyValue("est. rows", fmt.Sprintf("%.0f", res.EstRows))
			}
			for _, obj := range res.RelevantObjects {
				ui.KeyValue("used", obj.ObjType+" "+strings.Join(obj.ObjNames, "."))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&entireSchema, "entire-schema", false, "put every described object in context")
	cmd.Flags().StringSliceVar(&onlyObjects, "only", nil, "restrict context to these objects (schema.name)")
	cmd.Flags().IntVar(&maxIter, "max-iterations", 0, "override the iteration budget")
	embFlags.register(cmd)

	return cmd
}

// buildChatProvider constructs the configured chat model, resolving its API
// key through the secret store.
func buildChatProvider(ctx context.Context, db *sql.DB, cfg *config.Config) (llm.ChatProvider, error) {
	pcfg := chatProviderConfig(cfg)

	apiKey := pcfg.APIKey
	if apiKey == "" && pcfg.APIKeyName != "" {
		resolver := secrets.NewDBResolver(db)
		key, err := resolver.Resolve(ctx, "", pcfg.APIKeyName, "")
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", pcfg.APIKeyName, err)
		}
		apiKey = key
	}

	return llm.New(cfg.Agent.Provider, cfg.Agent.Model, apiKey, pcfg)
}

func chatProviderConfig(cfg *config.Config) config.ProviderConfig {
	switch cfg.Agent.Provider {
	case "openai":
		return cfg.Providers.OpenAI
	case "cohere":
		return cfg.Providers.Cohere
	case "ollama":
		return cfg.Providers.Ollama
	default:
		return cfg.Providers.Anthropic
	}
}

// buildEmbeddingCache wires the question-embedding cache per config. A redis
// connection failure degrades to no caching rather than failing the command.
func buildEmbeddingCache(cfg *config.Config) (*cache.EmbeddingCache, func()) {
	switch cfg.Cache.Driver {
	case "redis":
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, embedding cache disabled")
			return nil, func() {}
		}
		return cache.NewEmbeddingCache(client, cfg.Cache.TTL), func() { _ = client.Close() }
	default:
		client := cache.NewMemoryClient(cfg.Cache.MaxEntries)
		return cache.NewEmbeddingCache(client, cfg.Cache.TTL), func() { _ = client.Close() }
	}
}
