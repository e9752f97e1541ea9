package identity

import (
	"context"
	"log"
	"os"
	"sort"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

// Resolver batch-resolves creator identifiers against a Service.
//
// Both operations return an empty result without calling the service while
// the session is unavailable: being signed out is not an error.
type Resolver struct {
	svc     Service
	session Session
	logger  *log.Logger
}

// NewResolver creates a resolver. If logger is nil, a default logger is used.
func NewResolver(svc Service, session Session, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[identity] ", log.LstdFlags)
	}
	return &Resolver{svc: svc, session: session, logger: logger}
}

// ResolveBatch resolves ids with a single discovery call. Duplicate and empty
// ids are dropped first. The current account marker resolves to the
// signed-in account. Ids that do not resolve are absent from the result.
func (r *Resolver) ResolveBatch(ctx context.Context, ids []string) (map[string]Identity, error) {
	result := make(map[string]Identity)
	if !r.session.Available() {
		return result, nil
	}

	account := r.session.AccountID()
	seen := make(map[string]bool, len(ids))
	wantMarker := false
	query := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == schema.CurrentAccountMarker {
			wantMarker = true
			id = account
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		query = append(query, id)
	}
	if len(query) == 0 {
		return result, nil
	}

	found, err := r.svc.DiscoverBatch(ctx, query)
	if err != nil {
		return nil, &cloud.IdentityQueryFailedError{Cause: err}
	}

	for _, id := range query {
		if ident, ok := found[id]; ok {
			result[id] = ident
		}
	}
	if ident, ok := result[account]; ok && wantMarker {
		result[schema.CurrentAccountMarker] = ident
	}

	if missing := len(query) - countResolved(query, found); missing > 0 {
		r.logger.Printf("%d of %d identities did not resolve", missing, len(query))
	}
	return result, nil
}

func countResolved(query []string, found map[string]Identity) int {
	n := 0
	for _, id := range query {
		if _, ok := found[id]; ok {
			n++
		}
	}
	return n
}

// ResolveAll returns every identity known to the account, sorted by display
// name. The signed-in account is never part of the result.
func (r *Resolver) ResolveAll(ctx context.Context) ([]Identity, error) {
	if !r.session.Available() {
		return []Identity{}, nil
	}

	all, err := r.svc.DiscoverAll(ctx)
	if err != nil {
		return nil, &cloud.IdentityQueryFailedError{Cause: err}
	}

	self := map[string]bool{r.session.AccountID(): true}
	me, err := r.svc.CurrentAccountIdentity(ctx)
	if err != nil {
		r.logger.Printf("WARNING: could not look up current account identity: %v", err)
	} else if me != nil {
		self[me.UserID] = true
	}

	seen := make(map[string]bool, len(all))
	out := make([]Identity, 0, len(all))
	for _, ident := range all {
		if ident.UserID == "" || self[ident.UserID] || seen[ident.UserID] {
			continue
		}
		seen[ident.UserID] = true
		out = append(out, ident)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DisplayName(), out[j].DisplayName()
		if a != b {
			return a < b
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
