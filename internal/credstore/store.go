package credstore

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/auditdeck/sessionkit/internal/log"
)

// ErrNotFound is returned by backends when a key doesn't exist
var ErrNotFound = errors.New("key not found")

// Scope selects which persistence scope holds the credential
type Scope string

const (
	// ScopeDurable persists across restarts ("remember me")
	ScopeDurable Scope = "durable"

	// ScopeEphemeral persists only for the current session lifetime
	ScopeEphemeral Scope = "ephemeral"
)

// Backend is a key-value persistence medium for one scope
type Backend interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

const (
	tokenKey         = "session.token"
	userKey          = "session.user"
	callbackCacheKey = "oauth.callback"
)

// Store persists exactly one credential/user pair across two scopes.
// At most one scope holds the pair at any time; every persist clears the
// other scope. Backend failures are swallowed: persistence is best effort
// and a Read returning nothing is always a safe state.
type Store struct {
	mu        sync.Mutex
	durable   Backend
	ephemeral Backend
}

// NewStore creates a credential store over the two scope backends
func NewStore(durable, ephemeral Backend) *Store {
	return &Store{durable: durable, ephemeral: ephemeral}
}

// Persist writes the credential and user record to the chosen scope, then
// clears both values from the other scope. Callers never observe a state
// where both scopes hold data.
func (s *Store) Persist(cred *identity.Credential, user *identity.User, scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, other := s.backends(scope)

	s.writePair(target, scope, cred, user)
	s.deletePair(other)

	log.LogDebugWithFields("credstore", "Persisted credential", map[string]any{
		"scope": string(scope),
	})
}

// Read returns the stored pair, preferring the durable scope. Fields from
// the two scopes are never merged. The second return is the scope that
// holds the pair; ok is false when neither scope has a credential.
func (s *Store) Read() (cred *identity.Credential, user *identity.User, scope Scope, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred, user := s.readPair(s.durable); cred != nil {
		log.LogTraceWithFields("credstore", "Read credential", map[string]any{
			"scope": string(ScopeDurable),
		})
		return cred, user, ScopeDurable, true
	}
	if cred, user := s.readPair(s.ephemeral); cred != nil {
		log.LogTraceWithFields("credstore", "Read credential", map[string]any{
			"scope": string(ScopeEphemeral),
		})
		return cred, user, ScopeEphemeral, true
	}
	return nil, nil, "", false
}

// UpdateUser refreshes the cached user record in the scope that currently
// holds the credential, without moving the credential between scopes.
func (s *Store) UpdateUser(user *identity.User, scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, _ := s.backends(scope)

	data, err := json.Marshal(user)
	if err != nil {
		log.LogWarnWithFields("credstore", "Failed to encode user record", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if err := target.Set(userKey, data); err != nil {
		log.LogWarnWithFields("credstore", "Failed to update user record", map[string]any{
			"scope": string(scope),
			"error": err.Error(),
		})
	}
}

// Clear removes the pair from both scopes unconditionally
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletePair(s.durable)
	s.deletePair(s.ephemeral)

	log.LogDebugWithFields("credstore", "Cleared credential from both scopes", nil)
}

// CacheSet writes the OAuth callback payload to the ephemeral scope under
// a fixed key. The payload survives a duplicate reconciler invocation but
// never outlives the session.
func (s *Store) CacheSet(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ephemeral.Set(callbackCacheKey, payload); err != nil {
		log.LogWarnWithFields("credstore", "Failed to write callback cache", map[string]any{
			"error": err.Error(),
		})
	}
}

// CacheGet reads the OAuth callback payload, if any
func (s *Store) CacheGet() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.ephemeral.Get(callbackCacheKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.LogWarnWithFields("credstore", "Failed to read callback cache", map[string]any{
				"error": err.Error(),
			})
		}
		return nil, false
	}
	return data, true
}

// CacheUpdate applies fn to the current callback payload while holding
// the store lock and persists what fn returns. fn receives nil when no
// entry exists; returning nil removes the entry. Claim-style transitions
// go through here so two concurrent readers cannot both take the same
// payload.
func (s *Store) CacheUpdate(fn func(current []byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.ephemeral.Get(callbackCacheKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.LogWarnWithFields("credstore", "Failed to read callback cache", map[string]any{
				"error": err.Error(),
			})
		}
		current = nil
	}

	next := fn(current)
	if next == nil {
		if err := s.ephemeral.Delete(callbackCacheKey); err != nil && !errors.Is(err, ErrNotFound) {
			log.LogWarnWithFields("credstore", "Failed to delete callback cache", map[string]any{
				"error": err.Error(),
			})
		}
		return
	}
	if err := s.ephemeral.Set(callbackCacheKey, next); err != nil {
		log.LogWarnWithFields("credstore", "Failed to write callback cache", map[string]any{
			"error": err.Error(),
		})
	}
}

// CacheDelete removes the OAuth callback payload
func (s *Store) CacheDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ephemeral.Delete(callbackCacheKey); err != nil && !errors.Is(err, ErrNotFound) {
		log.LogWarnWithFields("credstore", "Failed to delete callback cache", map[string]any{
			"error": err.Error(),
		})
	}
}

func (s *Store) backends(scope Scope) (target, other Backend) {
	if scope == ScopeDurable {
		return s.durable, s.ephemeral
	}
	return s.ephemeral, s.durable
}

func (s *Store) writePair(b Backend, scope Scope, cred *identity.Credential, user *identity.User) {
	credData, err := json.Marshal(cred)
	if err != nil {
		log.LogWarnWithFields("credstore", "Failed to encode credential", map[string]any{
			"error": err.Error(),
		})
		return
	}
	userData, err := json.Marshal(user)
	if err != nil {
		log.LogWarnWithFields("credstore", "Failed to encode user record", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if err := b.Set(tokenKey, credData); err != nil {
		log.LogWarnWithFields("credstore", "Failed to persist credential", map[string]any{
			"scope": string(scope),
			"error": err.Error(),
		})
		return
	}
	if err := b.Set(userKey, userData); err != nil {
		log.LogWarnWithFields("credstore", "Failed to persist user record", map[string]any{
			"scope": string(scope),
			"error": err.Error(),
		})
	}
}

func (s *Store) readPair(b Backend) (*identity.Credential, *identity.User) {
	credData, err := b.Get(tokenKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.LogWarnWithFields("credstore", "Failed to read credential", map[string]any{
				"error": err.Error(),
			})
		}
		return nil, nil
	}

	var cred identity.Credential
	if err := json.Unmarshal(credData, &cred); err != nil || cred.AccessToken == "" {
		return nil, nil
	}

	var user *identity.User
	if userData, err := b.Get(userKey); err == nil {
		var u identity.User
		if err := json.Unmarshal(userData, &u); err == nil {
			user = &u
		}
	}

	return &cred, user
}

func (s *Store) deletePair(b Backend) {
	for _, key := range []string{tokenKey, userKey} {
		if err := b.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
			log.LogWarnWithFields("credstore", "Failed to clear key", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}
