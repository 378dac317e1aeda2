package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[v] holds the statements that bring the schema from v-1 to v.
var migrations = [][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS corrections (
            id TEXT PRIMARY KEY,
            point_id INTEGER NOT NULL,
            previous_label TEXT,
            new_label TEXT,
            corrected_at TEXT NOT NULL
        );`,
	},
	2: {
		`ALTER TABLE corrections ADD COLUMN source TEXT;`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_point ON corrections(point_id);`,
	},
}

func latestVersion() int { return len(migrations) - 1 }

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`); err != nil {
		return 0, err
	}
	var cnt int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt); err != nil {
		return 0, err
	}
	if cnt == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`); err != nil {
			return 0, err
		}
		return 0, nil
	}
	var v int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v)
	return v, err
}

// migrate applies every pending migration in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	cur, err := schemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := cur + 1; v <= latestVersion(); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for i, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migrate up to v%d step %d: %w", v, i, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
