package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/db"
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the shipment history database",
		Long: `Manage the PostgreSQL schema used by the postgres history backend.

Connection settings come from history.postgres in the config file, overlaid by
the TRADEDOC_DB_* environment variables. Migrations are compiled into the
binary and tracked in the schema_migrations table.`,
		Example: `  tradedoc db status
  tradedoc db migrate --dry-run
  tradedoc db migrate --yes`,
		Aliases: []string{"database"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))
	return cmd
}

func newDbMigrateCommand(deps *Deps) *cobra.Command {
	var dryRun, yes bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply pending schema migrations in version order.

Each migration runs in a transaction. A failed migration is rolled back and
no later migration is attempted.`,
		Example: `  tradedoc db migrate
  tradedoc db migrate --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps, cmd.OutOrStdout(), dryRun, yes)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without asking for confirmation")
	return cmd
}

func newDbStatusCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection health and migration status",
		Example: `  tradedoc db status
  tradedoc db status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps, cmd.OutOrStdout())
		},
	}
}

// connectHistoryDB opens the pool configured for the postgres history backend.
func (d *Deps) connectHistoryDB(ctx context.Context) (*config.CLIConfig, *pgxpool.Pool, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	dbCfg := cfg.History.Postgres
	if dbCfg == nil {
		dbCfg = db.DefaultConfig()
		dbCfg.ApplyEnv()
	}
	pool, err := d.ConnectDB(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return cfg, pool, nil
}

func runDbMigrate(ctx context.Context, deps *Deps, out io.Writer, dryRun, yes bool) error {
	_, pool, err := deps.connectHistoryDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close(pool)

	status, err := db.GetMigrationStatus(ctx, pool, db.Migrations)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}
	if !yes {
		answer, err := deps.Prompt("Apply these migrations? (y/N): ", false)
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if strings.ToLower(answer) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	result, err := db.RunMigrations(ctx, pool, db.Migrations)
	if err != nil {
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "Applied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintf(out, "Applied %d migration(s):\n", len(result.Applied))
	for _, v := range result.Applied {
		fmt.Fprintf(out, "  %s\n", v)
	}
	return nil
}

// DbStatus is the machine-readable output of `db status`.
type DbStatus struct {
	Health     *db.HealthStatus    `json:"health" yaml:"health"`
	Migrations *db.MigrationStatus `json:"migrations" yaml:"migrations"`
}

func runDbStatus(ctx context.Context, deps *Deps, out io.Writer) error {
	cfg, pool, err := deps.connectHistoryDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close(pool)

	status := &DbStatus{Health: db.Check(ctx, pool)}
	status.Migrations, err = db.GetMigrationStatus(ctx, pool, db.Migrations)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return WriteOutput(out, cfg.OutputFormat, status, func(w io.Writer) error {
		return writeDbStatusText(w, status)
	})
}

func writeDbStatusText(w io.Writer, status *DbStatus) error {
	if status.Health.Healthy {
		fmt.Fprintf(w, "Connection:  healthy (%s, %d/%d conns in use)\n",
			status.Health.Latency, status.Health.AcquiredConns, status.Health.TotalConns)
	} else {
		fmt.Fprintf(w, "Connection:  unhealthy: %s\n", status.Health.Error)
	}
	fmt.Fprintln(w)

	tw := newTable(w)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, m := range status.Migrations.Applied {
		applied := "-"
		if m.AppliedAt != nil {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Version, truncate(m.Name, 40), applied)
	}
	for _, m := range status.Migrations.Pending {
		fmt.Fprintf(tw, "%s\t%s\tpending\n", m.Version, truncate(m.Name, 40))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nSummary: %d applied, %d pending\n",
		len(status.Migrations.Applied), len(status.Migrations.Pending))
	return nil
}
