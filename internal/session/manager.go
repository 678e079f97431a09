package session

import (
	"context"
	"sync"

	"github.com/auditdeck/sessionkit/internal/credstore"
	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/auditdeck/sessionkit/internal/log"
	"golang.org/x/sync/singleflight"
)

// Manager is the single object the rest of the application depends on for
// session handling. It composes the credential store and the validator
// into one lifecycle and publishes State changes to subscribers.
//
// Construct one explicitly and inject it; there is no ambient global
// instance.
type Manager struct {
	mu        sync.Mutex
	identity  IdentityService
	store     *credstore.Store
	state     State
	scope     credstore.Scope
	gen       uint64
	validated string // last credential value confirmed by the service
	listeners map[int]func(State)
	nextID    int
	group     singleflight.Group
}

// NewManager creates a session manager over the given identity service
// and credential store
func NewManager(svc IdentityService, store *credstore.Store) *Manager {
	return &Manager{
		identity:  svc,
		store:     store,
		listeners: make(map[int]func(State)),
	}
}

// Init loads any stored credential, publishes the provisional state, and
// kicks off validation for the loaded credential. The published state has
// Validating set until the check completes, so callers never mistake
// "not yet checked" for "logged out".
func (m *Manager) Init(ctx context.Context) {
	cred, user, scope, ok := m.store.Read()

	m.mu.Lock()
	if ok {
		m.state = State{Credential: cred, User: user, Validating: true}
		m.scope = scope
	} else {
		m.state = State{}
	}
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)

	if ok {
		log.LogInfoWithFields("session", "Restored stored session", map[string]any{
			"scope":    string(scope),
			"has_user": user != nil,
		})
		go func() {
			if err := m.Validate(ctx); err != nil {
				log.LogDebugWithFields("session", "Boot validation did not complete", map[string]any{
					"error": err.Error(),
				})
			}
		}()
	}
}

// Login exchanges a username and password for a session. The credential is
// persisted to the durable scope when remember is true, ephemeral
// otherwise, and persistence completes before the authenticated state is
// published. Identity service rejections are returned verbatim with no
// local state change.
func (m *Manager) Login(ctx context.Context, username, password string, remember bool) error {
	cred, err := m.identity.Login(ctx, username, password)
	if err != nil {
		return err
	}

	user, err := m.identity.CurrentUser(ctx, cred)
	if err != nil {
		return err
	}

	m.commit(cred, user, rememberScope(remember))

	log.LogInfoWithFields("session", "Login succeeded", map[string]any{
		"remember": remember,
		"role":     user.Role,
	})
	return nil
}

// LoginWithAccessToken establishes a session from an externally obtained
// bearer token, skipping the password step. Used by the OAuth callback
// reconciler.
func (m *Manager) LoginWithAccessToken(ctx context.Context, accessToken string, remember bool) error {
	cred := &identity.Credential{AccessToken: accessToken, TokenType: "bearer"}

	user, err := m.identity.CurrentUser(ctx, cred)
	if err != nil {
		return err
	}

	m.commit(cred, user, rememberScope(remember))

	log.LogInfoWithFields("session", "Token login succeeded", map[string]any{
		"remember": remember,
		"role":     user.Role,
	})
	return nil
}

// Logout clears the local session. The identity service is notified best
// effort; local state is cleared even when that call fails. Any in-flight
// validation result for the old credential is abandoned via the
// generation bump.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	cred := m.state.Credential
	m.mu.Unlock()

	if cred != nil {
		if err := m.identity.Logout(ctx, cred); err != nil {
			log.LogWarnWithFields("session", "Logout notification failed, clearing locally anyway", map[string]any{
				"error": err.Error(),
			})
		}
	}

	m.store.Clear()

	m.mu.Lock()
	m.gen++
	m.validated = ""
	m.state = State{}
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)

	log.LogInfoWithFields("session", "Logged out", nil)
}

// State returns the current session state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers a listener invoked on every published state change.
// The returned function unregisters it.
func (m *Manager) OnChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// commit persists the new pair and publishes the authenticated state.
// Storage write happens before the state change is observable.
func (m *Manager) commit(cred *identity.Credential, user *identity.User, scope credstore.Scope) {
	m.store.Persist(cred, user, scope)

	m.mu.Lock()
	m.gen++
	m.validated = cred.AccessToken // CurrentUser just accepted it
	m.scope = scope
	m.state = State{Credential: cred, User: user}
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)
}

func rememberScope(remember bool) credstore.Scope {
	if remember {
		return credstore.ScopeDurable
	}
	return credstore.ScopeEphemeral
}

// snapshotLocked copies the state and listener set; callers hold mu.
// Listeners are invoked after unlock so they may call back into the
// manager.
func (m *Manager) snapshotLocked() (State, []func(State)) {
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return m.state, listeners
}

func notify(listeners []func(State), state State) {
	for _, fn := range listeners {
		fn(state)
	}
}
