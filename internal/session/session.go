// Package session owns the client-side authentication session lifecycle:
// obtaining a credential, persisting it, revalidating it on boot, and
// publishing a read-only session state to the rest of the application.
package session

import (
	"context"

	"github.com/auditdeck/sessionkit/internal/identity"
)

// State is the read-only session view published to the UI layer.
// A credential without a resolved user record is a transient,
// not-yet-authenticated state; Validating distinguishes "not checked yet"
// from "logged out".
type State struct {
	Credential *identity.Credential
	User       *identity.User
	Validating bool
}

// Authenticated reports whether the session holds both a credential and a
// resolved user record
func (s State) Authenticated() bool {
	return s.Credential != nil && s.User != nil
}

// IdentityService is the slice of the identity client the session layer
// depends on
type IdentityService interface {
	Login(ctx context.Context, username, password string) (*identity.Credential, error)
	CurrentUser(ctx context.Context, cred *identity.Credential) (*identity.User, error)
	Logout(ctx context.Context, cred *identity.Credential) error
}
