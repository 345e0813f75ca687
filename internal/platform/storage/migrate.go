package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Schema migrations are embedded .up.sql/.down.sql pairs under migrations/,
// named NNN_description (001_settlement_core.up.sql and so on). Applied
// versions are recorded in schema_migrations; Migrate applies what is
// missing, MigrateDown rolls the newest ones back.

// MigrationRecord is one applied schema migration.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

type pendingMigration struct {
	version int
	name    string
	upSQL   string
}

// Migrate applies every pending migration in version order. Each migration
// runs in its own transaction together with its schema_migrations record.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool, len(applied))
	for _, rec := range applied {
		appliedVersions[rec.Version] = true
	}

	pending, err := pendingFromEmbed(appliedVersions)
	if err != nil {
		return fmt.Errorf("collect pending migrations: %w", err)
	}

	for _, mig := range pending {
		err := db.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.upSQL); err != nil {
				return fmt.Errorf("execute sql: %w", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.version, mig.name); err != nil {
				return fmt.Errorf("record migration: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", mig.name, err)
		}
	}

	return nil
}

// MigrateDown rolls back the most recent steps applied migrations using
// their .down.sql counterparts. Rolling back drops settlement tables and
// their data; this is an operator action, never part of normal startup.
func (db *DB) MigrateDown(ctx context.Context, steps int) error {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}

	sort.Slice(applied, func(i, j int) bool { return applied[i].Version > applied[j].Version })
	if steps > len(applied) {
		steps = len(applied)
	}

	for _, rec := range applied[:steps] {
		downSQL, err := fs.ReadFile(migrationsFS, fmt.Sprintf("migrations/%s.down.sql", rec.Name))
		if err != nil {
			return fmt.Errorf("read down migration for %s: %w", rec.Name, err)
		}

		err = db.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(downSQL)); err != nil {
				return fmt.Errorf("execute rollback: %w", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, rec.Version); err != nil {
				return fmt.Errorf("delete record: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("rollback migration %s: %w", rec.Name, err)
		}
	}

	return nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	sql := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := db.pool.Exec(ctx, sql)
	return err
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.pool.Query(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func pendingFromEmbed(appliedVersions map[int]bool) ([]pendingMigration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}

	var pending []pendingMigration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: non-numeric version prefix", name)
		}
		if appliedVersions[version] {
			continue
		}

		upSQL, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		pending = append(pending, pendingMigration{
			version: version,
			name:    strings.TrimSuffix(name, ".up.sql"),
			upSQL:   string(upSQL),
		})
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}
