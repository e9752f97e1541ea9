// Package migrate moves todos in and out of the local store.
//
// Todos are exchanged as JSONL, one item per line, in the same JSON shape
// the store uses. The public mirror can be exported as YAML with creator
// display names resolved.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/db"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// TodoStore is the part of the local store import and export need.
// *db.DB implements it.
type TodoStore interface {
	GetTodoContext(ctx context.Context, id string) (*schema.TodoItem, error)
	UpsertTodoContext(ctx context.Context, item *schema.TodoItem) error
	ListTodos(ctx context.Context, filter db.TodoFilter) ([]*schema.TodoItem, error)
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	FromJSONL string // Input JSONL file path
	DryRun    bool   // Preview without writing
	Backup    bool   // Keep a copy of the input next to it
	Overwrite bool   // Replace items that already exist locally
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Imported      int
	Replaced      int
	Skipped       int
	BackupCreated string
	Errors        []string
}

// ReadJSONL parses todos from r. Blank lines are ignored. Items without an
// id get a fresh one; items without a creation date are stamped with now.
// Publish intent is cleared: an imported item is published again only by
// an explicit publish.
func ReadJSONL(r io.Reader, now time.Time) ([]*schema.TodoItem, error) {
	var items []*schema.TodoItem

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item schema.TodoItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreateDate.IsZero() {
			item.CreateDate = now
		}
		if item.UpdatedAt.IsZero() {
			item.UpdatedAt = now
		}
		item.Published = false

		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("invalid todo at line %d: %w", lineNum, err)
		}
		items = append(items, &item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}

	return items, nil
}

// FromJSONL reads a JSONL file and returns the parsed todos
func FromJSONL(path string) ([]*schema.TodoItem, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file, time.Now().UTC())
}

// Import loads todos from opts.FromJSONL into store. Items that already
// exist are skipped unless opts.Overwrite is set. A failure to write one
// item is recorded in the result and does not stop the import.
func Import(ctx context.Context, store TodoStore, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if _, err := os.Stat(opts.FromJSONL); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.FromJSONL + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.FromJSONL)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	items, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	for _, item := range items {
		existing, err := store.GetTodoContext(ctx, item.ID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up todo %s: %w", item.ID, err)
		}
		if existing != nil {
			if !opts.Overwrite {
				result.Skipped++
				continue
			}
			// the local publish intent survives a replace
			item.Published = existing.Published
		}

		if !opts.DryRun {
			if err := store.UpsertTodoContext(ctx, item); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to write todo %s: %v", item.ID, err))
				continue
			}
		}
		if existing != nil {
			result.Replaced++
		} else {
			result.Imported++
		}
	}

	return result, nil
}

// WriteJSONL writes items to w, one JSON object per line.
func WriteJSONL(w io.Writer, items []*schema.TodoItem) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to encode todo %s: %w", item.ID, err)
		}
	}
	return nil
}

// Export writes every todo matching filter to w as JSONL and returns the
// number written.
func Export(ctx context.Context, store TodoStore, filter db.TodoFilter, w io.Writer) (int, error) {
	items, err := store.ListTodos(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := WriteJSONL(w, items); err != nil {
		return 0, err
	}
	return len(items), nil
}
