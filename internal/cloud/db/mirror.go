package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

const mirrorColumns = `record_id, creator_id, title, details, done, create_date, modified_at, synced_at`

const upsertMirrorSQL = `
INSERT INTO mirror (` + mirrorColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(record_id) DO UPDATE SET
	creator_id = excluded.creator_id,
	title = excluded.title,
	details = excluded.details,
	done = excluded.done,
	create_date = excluded.create_date,
	modified_at = excluded.modified_at,
	synced_at = excluded.synced_at
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertMirror(ctx context.Context, ex execer, item *schema.MirrorItem) error {
	if item.RecordID == "" {
		return fmt.Errorf("mirror row without record id")
	}
	_, err := ex.ExecContext(ctx, upsertMirrorSQL,
		item.RecordID,
		item.CreatorID,
		item.Title,
		item.Details,
		item.Done,
		formatTime(item.CreateDate),
		formatTime(item.ModifiedAt),
		formatTime(item.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mirror row %s: %w", item.RecordID, err)
	}
	return nil
}

// UpsertMirror inserts or updates a single mirror row outside a batch.
func (db *DB) UpsertMirror(ctx context.Context, item *schema.MirrorItem) error {
	return upsertMirror(ctx, db.conn, item)
}

// GetMirror retrieves a mirror row by remote record id.
func (db *DB) GetMirror(ctx context.Context, recordID string) (*schema.MirrorItem, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mirrorColumns+` FROM mirror WHERE record_id = ?`, recordID)

	item, err := scanMirror(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mirror row %s: %w", recordID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get mirror row %s: %w", recordID, err)
	}
	return item, nil
}

// DeleteMirror removes a mirror row. Returns nil if it doesn't exist.
func (db *DB) DeleteMirror(ctx context.Context, recordID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM mirror WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("failed to delete mirror row %s: %w", recordID, err)
	}
	return nil
}

// ListMirror returns the mirror rows of one creator, or of every creator when
// creatorID is empty, in the public listing order: creator descending, then
// creation date descending.
func (db *DB) ListMirror(ctx context.Context, creatorID string) ([]*schema.MirrorItem, error) {
	query := `SELECT ` + mirrorColumns + ` FROM mirror`
	var args []any
	if creatorID != "" {
		query += ` WHERE creator_id = ?`
		args = append(args, creatorID)
	}
	query += ` ORDER BY creator_id DESC, create_date DESC, record_id ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror: %w", err)
	}
	defer rows.Close()

	var items []*schema.MirrorItem
	for rows.Next() {
		item, err := scanMirror(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mirror row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mirror: %w", err)
	}
	return items, nil
}

// CountMirror returns the number of mirror rows.
func (db *DB) CountMirror(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mirror").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mirror: %w", err)
	}
	return n, nil
}

// ApplyMirrorBatch applies mutations in one transaction. Either every
// mutation is committed or none is.
func (db *DB) ApplyMirrorBatch(ctx context.Context, muts []schema.MirrorMutation) error {
	if len(muts) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range muts {
		switch m.Op {
		case schema.MutationInsert, schema.MutationUpdate:
			if m.Item == nil {
				return fmt.Errorf("%s of %s without a row", m.Op, m.RecordID)
			}
			if err := upsertMirror(ctx, tx, m.Item); err != nil {
				return err
			}
		case schema.MutationDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM mirror WHERE record_id = ?`, m.RecordID); err != nil {
				return fmt.Errorf("failed to delete mirror row %s: %w", m.RecordID, err)
			}
		default:
			return fmt.Errorf("unknown mirror mutation %d for %s", m.Op, m.RecordID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanMirror(row rowScanner) (*schema.MirrorItem, error) {
	var (
		item                             schema.MirrorItem
		createDate, modifiedAt, syncedAt string
	)
	if err := row.Scan(&item.RecordID, &item.CreatorID, &item.Title, &item.Details,
		&item.Done, &createDate, &modifiedAt, &syncedAt); err != nil {
		return nil, err
	}

	var err error
	if item.CreateDate, err = parseTime(createDate); err != nil {
		return nil, err
	}
	if item.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, err
	}
	if item.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, err
	}
	return &item, nil
}
