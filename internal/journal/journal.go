// Package journal records label corrections made during review in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mailrag/internal/domain"
)

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Correction is one label change applied to an indexed email.
type Correction struct {
	ID            string
	PointID       uint64
	PreviousLabel domain.Label
	NewLabel      domain.Label
	CorrectedAt   time.Time
	// Source names the file the correction was made from.
	Source string
}

type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database and brings its schema up to date.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Append stores the corrections atomically. Missing ids and timestamps are filled in.
func (j *Journal) Append(ctx context.Context, cs ...Correction) error {
	if len(cs) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO corrections(id, point_id, previous_label, new_label, corrected_at, source) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range cs {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CorrectedAt.IsZero() {
			c.CorrectedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, int64(c.PointID), nullable(c.PreviousLabel), nullable(c.NewLabel),
			c.CorrectedAt.UTC().Format(timeLayout), c.Source); err != nil {
			return fmt.Errorf("insert correction for point %d: %w", c.PointID, err)
		}
	}
	return tx.Commit()
}

// List returns corrections oldest first. A zero pointID lists all of them.
func (j *Journal) List(ctx context.Context, pointID uint64) ([]Correction, error) {
	q := `SELECT id, point_id, previous_label, new_label, corrected_at, source FROM corrections`
	var args []any
	if pointID != 0 {
		q += ` WHERE point_id = ?`
		args = append(args, int64(pointID))
	}
	q += ` ORDER BY corrected_at, rowid`
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Correction
	for rows.Next() {
		var (
			c          Correction
			pid        int64
			prev, next sql.NullString
			at         string
			source     sql.NullString
		)
		if err := rows.Scan(&c.ID, &pid, &prev, &next, &at, &source); err != nil {
			return nil, err
		}
		c.PointID = uint64(pid)
		c.PreviousLabel = domain.Label(prev.String)
		c.NewLabel = domain.Label(next.String)
		c.Source = source.String
		if c.CorrectedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("correction %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(l domain.Label) any {
	if l == domain.LabelNone {
		return nil
	}
	return string(l)
}
