package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
)

// Directory is an identity service backed by a YAML file:
//
//	people:
//	  - id: _8f3c
//	    given_name: Ada
//	    family_name: Lovelace
//
// Every listed person is related to the signed-in account.
type Directory struct {
	path    string
	session Session

	mu     sync.RWMutex
	people map[string]Identity
}

var _ Service = (*Directory)(nil)

type directoryFile struct {
	People []Identity `yaml:"people"`
}

// LoadDirectory reads the directory file at path. A missing file is an
// empty directory.
func LoadDirectory(path string, session Session) (*Directory, error) {
	d := &Directory{
		path:    path,
		session: session,
		people:  make(map[string]Identity),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return d, nil
		}
		return nil, fmt.Errorf("failed to read identity directory: %w", err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse identity directory %s: %w", path, err)
	}
	for _, p := range f.People {
		if p.UserID == "" {
			return nil, fmt.Errorf("identity directory %s: entry without id", path)
		}
		d.people[p.UserID] = p
	}
	return d, nil
}

// Add inserts or replaces an identity. Call Save to persist it.
func (d *Directory) Add(ident Identity) error {
	if ident.UserID == "" {
		return fmt.Errorf("id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.people[ident.UserID] = ident
	return nil
}

// Save writes the directory back to its file.
func (d *Directory) Save() error {
	d.mu.RLock()
	f := directoryFile{People: d.sorted()}
	d.mu.RUnlock()

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to marshal identity directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(d.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write identity directory: %w", err)
	}
	return nil
}

func (d *Directory) sorted() []Identity {
	out := make([]Identity, 0, len(d.people))
	for _, p := range d.people {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// DiscoverBatch returns the listed identities among ids.
func (d *Directory) DiscoverBatch(ctx context.Context, ids []string) (map[string]Identity, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]Identity, len(ids))
	for _, id := range ids {
		if p, ok := d.people[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// DiscoverAll returns every listed identity, including the signed-in account.
func (d *Directory) DiscoverAll(ctx context.Context) ([]Identity, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sorted(), nil
}

// CurrentAccountIdentity returns the signed-in account. An account that is
// not listed is returned with its identifier only.
func (d *Directory) CurrentAccountIdentity(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.session.Available() {
		return nil, nil
	}

	id := d.session.AccountID()
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.people[id]; ok {
		return &p, nil
	}
	return &Identity{UserID: id}, nil
}

func (d *Directory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.session.Available() {
		return cloud.ErrSessionUnavailable
	}
	return nil
}
