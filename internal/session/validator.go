package session

import (
	"context"

	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/auditdeck/sessionkit/internal/log"
)

// Validate confirms the current credential is still accepted by the
// identity service and refreshes the cached user record in place.
//
// The check runs at most once per distinct credential value: an already
// confirmed credential is a no-op, and concurrent calls for the same
// credential share one request. A result arriving after the credential has
// changed (login/logout raced the network call) is discarded rather than
// committed, so a stale verdict never overwrites a newer session.
//
// Only an explicit unauthorized rejection clears the session. Any other
// failure leaves the previously cached user in place: transient
// connectivity loss must not log the user out.
func (m *Manager) Validate(ctx context.Context) error {
	m.mu.Lock()
	cred := m.state.Credential
	scope := m.scope
	gen := m.gen

	if cred == nil {
		m.state.Validating = false
		snapshot, listeners := m.snapshotLocked()
		m.mu.Unlock()
		notify(listeners, snapshot)
		return nil
	}
	if m.validated == cred.AccessToken {
		m.state.Validating = false
		snapshot, listeners := m.snapshotLocked()
		m.mu.Unlock()
		notify(listeners, snapshot)
		return nil
	}
	m.state.Validating = true
	snapshot, listeners := m.snapshotLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)

	type verdict struct {
		user *identity.User
		err  error
	}

	v, err, _ := m.group.Do(cred.AccessToken, func() (any, error) {
		user, err := m.identity.CurrentUser(ctx, cred)
		return verdict{user: user, err: err}, nil
	})
	if err != nil {
		return err
	}
	result := v.(verdict)

	m.mu.Lock()
	if m.gen != gen {
		// Credential changed while the check was in flight; whatever the
		// service said applies to a session that no longer exists.
		m.mu.Unlock()
		log.LogDebugWithFields("session", "Discarding stale validation result", map[string]any{
			"unauthorized": identity.IsUnauthorized(result.err),
		})
		return nil
	}

	switch {
	case result.err == nil:
		m.validated = cred.AccessToken
		m.state.User = result.user
		m.state.Validating = false
		snapshot, listeners := m.snapshotLocked()
		m.mu.Unlock()

		m.store.UpdateUser(result.user, scope)
		notify(listeners, snapshot)

		log.LogDebugWithFields("session", "Credential validated", map[string]any{
			"scope": string(scope),
			"role":  result.user.Role,
		})
		return nil

	case identity.IsUnauthorized(result.err):
		// Proven invalid: the server rejected a previously trusted token
		m.gen++
		m.validated = ""
		m.state = State{}
		snapshot, listeners := m.snapshotLocked()
		m.mu.Unlock()

		m.store.Clear()
		notify(listeners, snapshot)

		log.LogInfoWithFields("session", "Stored credential rejected, session cleared", nil)
		return nil

	default:
		// Unknown, not proven invalid: keep the session optimistically
		m.state.Validating = false
		snapshot, listeners := m.snapshotLocked()
		m.mu.Unlock()

		notify(listeners, snapshot)

		log.LogWarnWithFields("session", "Validation inconclusive, keeping cached session", map[string]any{
			"error": result.err.Error(),
		})
		return result.err
	}
}
