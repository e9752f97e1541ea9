// Package memstore is an in-process remote record store.
//
// A Server holds the shared record set; each Client is one account's view
// of it, so several simulated users can publish into the same store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// Op names a store call.
type Op string

const (
	OpFetch  Op = "fetch"
	OpSave   Op = "save"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
)

// Call describes one store call seen by an Interceptor.
type Call struct {
	Op       Op
	Account  string
	RecordID string
}

// Interceptor runs before every call. A non-nil error fails the call
// without touching the record set. Interceptors may block to simulate
// latency and must be safe for concurrent use.
type Interceptor func(ctx context.Context, call Call) error

// Server is the shared record set.
type Server struct {
	mu          sync.RWMutex
	records     map[string]*schema.Record
	interceptor Interceptor
	now         func() time.Time
}

// NewServer creates an empty store.
func NewServer() *Server {
	return &Server{
		records: make(map[string]*schema.Record),
		now:     time.Now,
	}
}

// Intercept installs fn as the call interceptor. Pass nil to remove it.
func (s *Server) Intercept(fn Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interceptor = fn
}

// Client returns a store bound to account.
func (s *Server) Client(account string) *Client {
	return &Client{server: s, account: account}
}

// Put stores rec as-is, without stamping. Used to seed records.
func (s *Server) Put(rec *schema.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
}

// Get returns a copy of the stored record.
func (s *Server) Get(id string) (*schema.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Remove deletes a record without going through a client.
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Len returns the number of stored records.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Server) intercept(ctx context.Context, call Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	fn := s.interceptor
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, call)
}

// Client is one account's view of a Server.
type Client struct {
	server  *Server
	account string
}

var _ remote.Store = (*Client)(nil)

// Account returns the account the client writes as.
func (c *Client) Account() string {
	return c.account
}

// Fetch returns the record with the given identifier.
func (c *Client) Fetch(ctx context.Context, id string) (*schema.Record, error) {
	if err := c.server.intercept(ctx, Call{Op: OpFetch, Account: c.account, RecordID: id}); err != nil {
		return nil, err
	}
	rec, ok := c.server.Get(id)
	if !ok {
		return nil, remote.NotFound(id)
	}
	return rec, nil
}

// Save stores rec, keeping the creator of an existing record.
func (c *Client) Save(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := c.server.intercept(ctx, Call{Op: OpSave, Account: c.account, RecordID: rec.ID}); err != nil {
		return nil, err
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := remote.Stamp(rec, s.records[rec.ID], c.account, s.now())
	s.records[rec.ID] = stored
	return stored.Clone(), nil
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.server.intercept(ctx, Call{Op: OpDelete, Account: c.account, RecordID: id}); err != nil {
		return err
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return remote.NotFound(id)
	}
	delete(s.records, id)
	return nil
}

// Query returns copies of every matching record.
func (c *Client) Query(ctx context.Context, q remote.Query) ([]*schema.Record, error) {
	if err := c.server.intercept(ctx, Call{Op: OpQuery, Account: c.account}); err != nil {
		return nil, err
	}

	s := c.server
	s.mu.RLock()
	all := make([]*schema.Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec.Clone())
	}
	s.mu.RUnlock()

	return q.Filter(all), nil
}
