package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ehr/recordsvc/internal/config"
	"github.com/ehr/recordsvc/internal/platform/db"
	"github.com/ehr/recordsvc/internal/platform/sqlitedb"
	"github.com/ehr/recordsvc/migrations"
)

func main() {
	root := &cobra.Command{
		Use:           "recordsvc",
		Short:         "Account and patient records API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), tenantCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the records API server",
		RunE: func(*cobra.Command, []string) error {
			return runServer()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// migrationSource returns the embedded migrations for driver, or the *.sql
// files in dir when one is given.
func migrationSource(driver, dir string) (fs.FS, error) {
	switch {
	case dir != "":
		return os.DirFS(dir), nil
	case driver == config.DriverSQLite:
		return migrations.SQLite()
	default:
		return migrations.Postgres()
	}
}

// withPostgres opens a pool for a one-shot CLI command.
func withPostgres(ctx context.Context, cfg *config.Config, fn func(*pgxpool.Pool) error) error {
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("this command needs STORE_DRIVER=%s", config.DriverPostgres)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

type migrateFlags struct {
	schema string
	dir    string
}

func (f *migrateFlags) resolve() (*config.Config, string, fs.FS, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}
	fsys, err := migrationSource(cfg.StoreDriver, f.dir)
	if err != nil {
		return nil, "", nil, err
	}
	schema := f.schema
	if schema == "" {
		schema = cfg.TenantSchema()
	}
	return cfg, schema, fsys, nil
}

func migrateCmd() *cobra.Command {
	var flags migrateFlags
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}
	cmd.PersistentFlags().StringVar(&flags.schema, "schema", "", "target postgres schema (default: the DEFAULT_TENANT schema)")
	cmd.PersistentFlags().StringVar(&flags.dir, "dir", "", "read *.sql files from this directory instead of the built-in set")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, schema, fsys, err := flags.resolve()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if cfg.StoreDriver == config.DriverSQLite {
				sqldb, err := sqlitedb.Open(ctx, cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer sqldb.Close()
				n, err := sqlitedb.Migrate(ctx, sqldb, fsys)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d migration(s) applied\n", cfg.SQLitePath, n)
				return nil
			}

			return withPostgres(ctx, cfg, func(pool *pgxpool.Pool) error {
				n, err := db.NewMigrator(pool, fsys).Up(ctx, schema)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d migration(s) applied\n", schema, n)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and when they were applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, schema, fsys, err := flags.resolve()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withPostgres(ctx, cfg, func(pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, fsys).Status(ctx, schema)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "schema %s\n", schema)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, s := range statuses {
					when := "pending"
					if s.Applied() {
						when = s.AppliedAt.Local().Format(time.DateTime)
					}
					fmt.Fprintf(w, "%03d\t%s\t%s\n", s.Version, s.Name, when)
				}
				return w.Flush()
			})
		},
	}

	down := &cobra.Command{
		Use:    "down",
		Short:  "Not supported; migrations are forward-only",
		Hidden: true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("migrations are forward-only: add a new migration that reverts the change")
		},
	}

	cmd.AddCommand(up, status, down)
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant schemas",
	}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema with all migrations applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fsys, err := migrations.Postgres()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withPostgres(ctx, cfg, func(pool *pgxpool.Pool) error {
				if err := db.CreateTenantSchema(ctx, pool, name, fsys); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s ready in schema %s\n", name, db.SchemaName(name))
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "tenant identifier (letters, digits and underscores)")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}
