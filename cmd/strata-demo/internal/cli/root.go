package cli

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/redbco/strata/adapters/postgres"
	"github.com/redbco/strata/adapters/redis"
	"github.com/redbco/strata/adapters/sqlite"
	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/config"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	Database string
	Backend  string
	Verbose  bool
	Config   *config.Config
	Registry *adapter.Registry
}

// NewRootCommand creates the root command for the demo CLI.
func NewRootCommand() *cobra.Command {
	cfg := config.Load()
	opts := &RootOptions{Config: cfg}

	cmd := &cobra.Command{
		Use:   "strata-demo",
		Short: "strata-demo drives the facade and lock manager against a database selected by name",
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", cfg.Get("database.path"), "path to the sqlite database file (sqlite backend only)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "sqlite", "adapter to use: sqlite, postgres, or redis")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	opts.Registry = newAdapterRegistry(opts)
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))

	return cmd
}

// newAdapterRegistry registers a factory per backend name. Factories close
// over opts so a factory picks up flags parsed after registration but
// before the command actually runs.
func newAdapterRegistry(opts *RootOptions) *adapter.Registry {
	reg := adapter.NewRegistry()

	reg.Register("sqlite", func() (adapter.Adapter, error) {
		if opts.Database == "" {
			return nil, adapter.NewConfigurationError("database.path", "must not be empty")
		}
		return sqlite.Open(opts.Database)
	})

	reg.Register("postgres", func() (adapter.Adapter, error) {
		port, _ := strconv.Atoi(getenv("STRATA_POSTGRES_PORT", "5432"))
		return postgres.Open(context.Background(), postgres.Config{
			Host:              getenv("STRATA_POSTGRES_HOST", "localhost"),
			Port:              port,
			Database:          getenv("STRATA_POSTGRES_DATABASE", "strata"),
			User:              getenv("STRATA_POSTGRES_USER", "strata"),
			Password:          getenv("STRATA_POSTGRES_PASSWORD", ""),
			SSLMode:           getenv("STRATA_POSTGRES_SSLMODE", "disable"),
			ConnectionTimeout: 5 * time.Second,
		})
	})

	reg.Register("redis", func() (adapter.Adapter, error) {
		port, _ := strconv.Atoi(getenv("STRATA_REDIS_PORT", "6379"))
		db, _ := strconv.Atoi(getenv("STRATA_REDIS_DB", "0"))
		return redis.Open(context.Background(), redis.Config{
			Host:     getenv("STRATA_REDIS_HOST", "localhost"),
			Port:     port,
			Password: getenv("STRATA_REDIS_PASSWORD", ""),
			DB:       db,
		})
	})

	return reg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
