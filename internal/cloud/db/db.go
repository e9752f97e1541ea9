// Package db is the local store: private todo items and the read-only
// mirror of other users' published records, in an embedded SQLite database.
//
// Architecture:
//   - Database file: ~/.local/share/cloudtodo/todo.db by default
//   - WAL mode: the CLI can read while the daemon commits a reconciliation
//   - Tables: todos (owned by the user), mirror (owned by reconciliation)
//
// Mirror changes from one reconciliation pass are applied in a single
// transaction, so readers never observe a half-reconciled mirror.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// ErrNotFound is returned when a todo or mirror row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened with WAL for concurrent reads. The parent directory
// is created if needed. Call InitSchema before first use and Close when done.
//
// Example:
//
//	store, err := db.Open("todo.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// DSN pragmas apply to every pooled connection. Write transactions
	// take the lock up front.
	conn, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA synchronous=NORMAL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		done INTEGER NOT NULL DEFAULT 0,
		create_date TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mirror (
		record_id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		done INTEGER NOT NULL DEFAULT 0,
		create_date TEXT NOT NULL DEFAULT '',
		modified_at TEXT NOT NULL DEFAULT '',
		synced_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_todos_create_date ON todos(create_date);
	CREATE INDEX IF NOT EXISTS idx_todos_published ON todos(published);
	CREATE INDEX IF NOT EXISTS idx_mirror_creator ON mirror(creator_id);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// timeLayout is fixed-width UTC so stored timestamps sort lexically and
// round-trip with nanosecond precision.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime stores the zero time as an empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// UpsertTodo inserts or updates a todo item.
func (db *DB) UpsertTodo(item *schema.TodoItem) error {
	return db.UpsertTodoContext(context.Background(), item)
}

// UpsertTodoContext inserts or updates a todo item with context support.
// UpdatedAt is set to the current time when it is zero.
func (db *DB) UpsertTodoContext(ctx context.Context, item *schema.TodoItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid todo: %w", err)
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO todos (id, title, details, done, create_date, published, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		details = excluded.details,
		done = excluded.done,
		create_date = excluded.create_date,
		published = excluded.published,
		updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		item.ID,
		item.Title,
		item.Details,
		item.Done,
		formatTime(item.CreateDate),
		item.Published,
		formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert todo %s: %w", item.ID, err)
	}
	return nil
}

// GetTodo retrieves a todo by id. Returns an error wrapping ErrNotFound if
// it does not exist.
func (db *DB) GetTodo(id string) (*schema.TodoItem, error) {
	return db.GetTodoContext(context.Background(), id)
}

// GetTodoContext retrieves a todo by id with context support.
func (db *DB) GetTodoContext(ctx context.Context, id string) (*schema.TodoItem, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, title, details, done, create_date, published, updated_at
	FROM todos WHERE id = ?
	`, id)

	item, err := scanTodo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("todo %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get todo %s: %w", id, err)
	}
	return item, nil
}

// FindTodo resolves a full id or a unique id prefix, the way the CLI
// accepts abbreviated ids.
func (db *DB) FindTodo(ctx context.Context, idOrPrefix string) (*schema.TodoItem, error) {
	if idOrPrefix == "" {
		return nil, fmt.Errorf("todo id is required")
	}
	if item, err := db.GetTodoContext(ctx, idOrPrefix); err == nil || !errors.Is(err, ErrNotFound) {
		return item, err
	}

	pattern := strings.NewReplacer("%", `\%`, "_", `\_`, `\`, `\\`).Replace(idOrPrefix) + "%"
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, title, details, done, create_date, published, updated_at
	FROM todos WHERE id LIKE ? ESCAPE '\' LIMIT 2
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to look up todo %s: %w", idOrPrefix, err)
	}
	defer rows.Close()

	items, err := scanTodos(rows)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, fmt.Errorf("todo %s: %w", idOrPrefix, ErrNotFound)
	case 1:
		return items[0], nil
	default:
		return nil, fmt.Errorf("todo id prefix %s is ambiguous", idOrPrefix)
	}
}

// DeleteTodo removes a todo. Returns nil if it doesn't exist (idempotent).
func (db *DB) DeleteTodo(id string) error {
	return db.DeleteTodoContext(context.Background(), id)
}

// DeleteTodoContext removes a todo with context support.
func (db *DB) DeleteTodoContext(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete todo %s: %w", id, err)
	}
	return nil
}

// SetPublished records the publish intent of a todo.
func (db *DB) SetPublished(ctx context.Context, id string, published bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE todos SET published = ?, updated_at = ? WHERE id = ?`,
		published, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update todo %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("todo %s: %w", id, ErrNotFound)
	}
	return nil
}

// TodoFilter configures ListTodos.
type TodoFilter struct {
	// Done filters by completion (nil = all)
	Done *bool
	// Published filters by publish intent (nil = all)
	Published *bool
	// Since keeps items created at or after this time (zero = all)
	Since time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListTodos returns todos matching filter, newest first.
func (db *DB) ListTodos(ctx context.Context, filter TodoFilter) ([]*schema.TodoItem, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.Done != nil {
		conditions = append(conditions, "done = ?")
		args = append(args, *filter.Done)
	}
	if filter.Published != nil {
		conditions = append(conditions, "published = ?")
		args = append(args, *filter.Published)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "create_date >= ?")
		args = append(args, formatTime(filter.Since))
	}

	query := `SELECT id, title, details, done, create_date, published, updated_at FROM todos`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY create_date DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	return scanTodos(rows)
}

// CountTodos returns the number of todos.
func (db *DB) CountTodos(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM todos").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count todos: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*schema.TodoItem, error) {
	var (
		item                 schema.TodoItem
		createDate, updateAt string
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Details, &item.Done,
		&createDate, &item.Published, &updateAt); err != nil {
		return nil, err
	}

	var err error
	if item.CreateDate, err = parseTime(createDate); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updateAt); err != nil {
		return nil, err
	}
	return &item, nil
}

func scanTodos(rows *sql.Rows) ([]*schema.TodoItem, error) {
	var items []*schema.TodoItem
	for rows.Next() {
		item, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating todos: %w", err)
	}
	return items, nil
}
