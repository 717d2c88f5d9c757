// Package main provides the vectorsync CLI entrypoint.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/vectorsync-ai/vectorsync/internal/config"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
)

// version is set at build time with -ldflags.
var version = "0.1.0"

var (
	cfgFile    string
	outputJSON bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vectorsync",
	Short: "Queue-driven embedding sync and text-to-SQL for Postgres",
	Long: `vectorsync keeps embedding tables synchronized with their source tables
and answers natural-language questions against a semantic catalog.

Use this tool to:
- Create and drop vectorizers on source tables
- Run the embedding worker
- Maintain the semantic catalog and its descriptions
- Ask questions answered with validated SQL

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A local .env is a convenience for development; absence is fine.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      logFormat,
			ServiceName: "vectorsync",
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newVectorizerCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				fmt.Printf("{\"version\": %q}\n", version)
				return
			}
			fmt.Println("vectorsync " + version)
		},
	}
}

// openDatabase opens the Postgres connection configured for this run.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("no database configured; set database.dsn or DATABASE_URL")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}
