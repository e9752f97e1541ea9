// Package identity resolves record creator identifiers to display identities.
package identity

import (
	"context"
	"strings"
)

// Identity is a user known to the remote identity service.
type Identity struct {
	UserID     string `yaml:"id" json:"id"`
	GivenName  string `yaml:"given_name,omitempty" json:"given_name,omitempty"`
	FamilyName string `yaml:"family_name,omitempty" json:"family_name,omitempty"`
	Nickname   string `yaml:"nickname,omitempty" json:"nickname,omitempty"`
}

// DisplayName joins the given and family names. It falls back to the
// nickname and then to the raw identifier.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(strings.Join([]string{i.GivenName, i.FamilyName}, " "))
	switch {
	case name != "":
		return name
	case i.Nickname != "":
		return i.Nickname
	default:
		return i.UserID
	}
}

// Service is the remote identity service.
type Service interface {
	// DiscoverBatch returns identities for the ids it knows. Unknown ids are
	// absent from the result; an error means the whole call failed.
	DiscoverBatch(ctx context.Context, ids []string) (map[string]Identity, error)

	// DiscoverAll returns every identity related to the signed-in account.
	DiscoverAll(ctx context.Context) ([]Identity, error)

	// CurrentAccountIdentity returns the signed-in account, or nil when
	// signed out.
	CurrentAccountIdentity(ctx context.Context) (*Identity, error)
}

// Session exposes the state of the account session.
type Session interface {
	Available() bool
	AccountID() string
}

// StaticSession is a session with a fixed account. An empty AccountID
// means signed out.
type StaticSession struct {
	ID string
}

// Available reports whether an account is signed in.
func (s StaticSession) Available() bool { return s.ID != "" }

// AccountID returns the signed-in account identifier.
func (s StaticSession) AccountID() string { return s.ID }

// Label returns the display name for id, or id itself when it did not resolve.
func Label(id string, resolved map[string]Identity) string {
	if ident, ok := resolved[id]; ok {
		return ident.DisplayName()
	}
	return id
}
