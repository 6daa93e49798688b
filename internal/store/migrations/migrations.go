// Package migrations creates the inventory cache schema. It tracks applied
// versions in schema_migrations so Run is safe to call on every startup.
package migrations

import (
	"context"
	"database/sql"
)

type migration struct {
	version int
	sql     string
}

var all = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS vm_inventory (
				moref          VARCHAR PRIMARY KEY,
				name           VARCHAR NOT NULL,
				power_state    VARCHAR NOT NULL,
				host           VARCHAR,
				cluster        VARCHAR,
				datacenter     VARCHAR,
				guest_os_id    VARCHAR,
				total_disk_gb  DOUBLE,
				memory_mb      BIGINT,
				cpu            INTEGER,
				firmware       VARCHAR,
				tags           VARCHAR,
				record         JSON NOT NULL
			)`,
	},
}

// Run applies every migration not yet recorded in schema_migrations, in
// version order, each inside its own transaction.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT now()
		)`); err != nil {
		return err
	}

	for _, m := range all {
		applied, err := isApplied(ctx, db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func isApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	return count > 0, err
}
