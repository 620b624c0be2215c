package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"musiguess/internal/config"
	pgmigrations "musiguess/internal/infra/postgres/migrations"
)

type migrateAction int

const (
	migrateUp migrateAction = iota
	migrateStatus
	migrateRollback
)

// NewMigrateCmd applies, inspects or rolls back the game_results schema.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var status, rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := migrateActionFor(status, rollback)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), *configPath, action)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "list applied and pending migrations without changing the schema")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last applied migration group")
	return cmd
}

func migrateActionFor(status, rollback bool) (migrateAction, error) {
	switch {
	case status && rollback:
		return migrateUp, fmt.Errorf("--status and --rollback are mutually exclusive")
	case status:
		return migrateStatus, nil
	case rollback:
		return migrateRollback, nil
	}
	return migrateUp, nil
}

func runMigrations(ctx context.Context, configPath string, action migrateAction) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	configureLogging(cfg)
	return runMigrationsWithConfig(ctx, cfg, action)
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, action migrateAction) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}

	if action == migrateStatus {
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return err
		}
		logMigrationStatus(ms)
		return nil
	}

	// Concurrent server replicas race to migrate on start.
	if err := migrator.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			log.Warn().Err(err).Msg("unlock migrations")
		}
	}()

	if action == migrateRollback {
		group, err := migrator.Rollback(ctx)
		if err != nil {
			return err
		}
		if group.IsZero() {
			log.Info().Msg("nothing to roll back")
			return nil
		}
		log.Info().Str("group", group.String()).Msg("migrations rolled back")
		return nil
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info().Msg("database is up to date")
		return nil
	}
	log.Info().Str("group", group.String()).Msg("migrations applied")
	return nil
}

type migrationStatus struct {
	applied   []string
	pending   []string
	lastGroup int64
}

func summarizeMigrations(ms migrate.MigrationSlice) migrationStatus {
	st := migrationStatus{lastGroup: ms.LastGroupID()}
	for _, m := range ms.Applied() {
		st.applied = append(st.applied, m.String())
	}
	for _, m := range ms.Unapplied() {
		st.pending = append(st.pending, m.String())
	}
	return st
}

func logMigrationStatus(ms migrate.MigrationSlice) {
	st := summarizeMigrations(ms)
	log.Info().
		Strs("applied", st.applied).
		Strs("pending", st.pending).
		Int64("last_group", st.lastGroup).
		Msg("migration status")
}
