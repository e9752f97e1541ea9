// Package schema provides the data model shared by the local store and the
// remote record store: todo items, mirror rows, remote records and their
// typed field values.
package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
)

// Content is the set of todo fields that can be published. Local items and
// mirror rows carry the same content.
type Content struct {
	Title      string    `json:"title" yaml:"title"`
	Details    string    `json:"details,omitempty" yaml:"details,omitempty"`
	Done       bool      `json:"done" yaml:"done"`
	CreateDate time.Time `json:"create_date" yaml:"create_date"`
}

// TodoItem is a private todo owned by the local store.
type TodoItem struct {
	ID string `json:"id"`
	Content

	// Published is the user's intent to share the item. It is never sent
	// to the remote store.
	Published bool      `json:"published"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTodo returns an item with a fresh identifier and creation date.
func NewTodo(title, details string) *TodoItem {
	now := time.Now().UTC()
	return &TodoItem{
		ID: uuid.NewString(),
		Content: Content{
			Title:      title,
			Details:    details,
			CreateDate: now,
		},
		UpdatedAt: now,
	}
}

// Validate checks if the TodoItem has valid field values.
func (t *TodoItem) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.CreateDate.IsZero() {
		return fmt.Errorf("create_date is required")
	}
	return nil
}

// RemoteRecordID returns the identifier of the item's remote counterpart.
// The remote record shares the local identifier, so no lookup table is kept.
func (t *TodoItem) RemoteRecordID() (string, error) {
	if t == nil || t.ID == "" {
		return "", cloud.ErrNoRemoteCounterpart
	}
	return t.ID, nil
}
