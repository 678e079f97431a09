// Package callback reconciles an external identity provider redirect into
// a local session. It tolerates the hosting surface invoking it more than
// once for the same redirect, even from a fresh instance: the attempt's
// phase is persisted in the ephemeral callback cache, so a duplicate
// invocation observes the recorded phase instead of relying on in-memory
// state alone.
package callback

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/auditdeck/sessionkit/internal/credstore"
	"github.com/auditdeck/sessionkit/internal/log"
)

// Payload holds the parameters observed in a provider redirect
type Payload struct {
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Empty reports whether the payload carries neither a token nor an error
func (p Payload) Empty() bool {
	return p.AccessToken == "" && p.Error == ""
}

// Attempt phases persisted in the callback cache. Only a pending record
// still carries the redirect parameters; the token never outlives the
// moment the exchange starts.
const (
	phasePending    = "pending"
	phaseExchanging = "exchanging"
	phaseDone       = "done"
)

// cacheRecord is the persisted form of one callback attempt
type cacheRecord struct {
	Phase   string  `json:"phase"`
	Payload Payload `json:"payload"`
	Status  Status  `json:"status,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Navigator abstracts the visible address of the hosting surface.
// ReplaceURL rewrites it in place without navigating; Navigate performs a
// full navigation that discards reconciler state.
type Navigator interface {
	ReplaceURL(cleanURL string)
	Navigate(destURL string)
}

// TokenExchanger is the session facade entry the reconciler drives
type TokenExchanger interface {
	LoginWithAccessToken(ctx context.Context, accessToken string, remember bool) error
}

// Status is the outcome of one Reconcile invocation
type Status string

const (
	// StatusExchanged means a session was established and the user was
	// sent to the landing page
	StatusExchanged Status = "exchanged"

	// StatusFailed means the callback attempt is over with no session
	StatusFailed Status = "failed"

	// StatusInFlight means another invocation owns the exchange for this
	// attempt; the caller should take no further action
	StatusInFlight Status = "in_flight"
)

// Result is the resolved state of a reconciliation. Reconcile never
// returns a Go error; failures carry a user-facing message here.
type Result struct {
	Status  Status
	Message string
}

// Reconciler converts one provider redirect into a session
type Reconciler struct {
	store     *credstore.Store
	exchanger TokenExchanger
	nav       Navigator
	landing   string

	mu       sync.Mutex
	terminal *Result
}

// NewReconciler creates a reconciler that exchanges callback tokens via
// exchanger and sends successful logins to landingURL.
func NewReconciler(store *credstore.Store, exchanger TokenExchanger, nav Navigator, landingURL string) *Reconciler {
	return &Reconciler{
		store:     store,
		exchanger: exchanger,
		nav:       nav,
		landing:   landingURL,
	}
}

// Reconcile processes the redirect URL and resolves to a terminal result.
//
// The URL is read first; parameters found there are written to the
// ephemeral callback cache before anything else, so a later invocation
// that arrives after the URL has been scrubbed recovers the attempt from
// the cache instead of reporting a spurious missing-token failure. The
// attempt then has to be claimed: exactly one invocation flips the cached
// record to the exchanging phase and runs the exchange. Every other
// invocation, including one from a fresh instance, observes the in-flight
// marker or the recorded terminal outcome and never re-submits the
// single-use token.
func (r *Reconciler) Reconcile(ctx context.Context, rawURL string) Result {
	r.mu.Lock()
	if r.terminal != nil {
		done := *r.terminal
		r.mu.Unlock()
		log.LogDebugWithFields("callback", "Reconciler already terminal, ignoring duplicate invocation", map[string]any{
			"status": string(done.Status),
		})
		return done
	}
	r.mu.Unlock()

	payload := ParseRedirect(rawURL)

	if !payload.Empty() {
		// Cache before any other side effect: the URL is about to be
		// scrubbed and a later invocation must still find the attempt.
		if data, err := json.Marshal(cacheRecord{Phase: phasePending, Payload: payload}); err == nil {
			r.store.CacheSet(data)
		}
		if payload.AccessToken != "" {
			// Scrub before the exchange so the token never lingers in
			// history or referrers.
			r.nav.ReplaceURL(scrubbed(rawURL))
		}
	}

	rec, claimed := r.claim()
	if !claimed {
		if rec.Phase == phaseDone {
			log.LogDebugWithFields("callback", "Attempt already terminal, reporting recorded outcome", map[string]any{
				"status": string(rec.Status),
			})
			return r.latch(Result{Status: rec.Status, Message: rec.Message})
		}
		log.LogDebugWithFields("callback", "Exchange already in flight, taking no action", nil)
		return Result{Status: StatusInFlight, Message: "another invocation is completing this login"}
	}
	payload = rec.Payload

	if payload.Error != "" {
		message := payload.ErrorDescription
		if message == "" {
			message = payload.Error
		}
		log.LogWarnWithFields("callback", "Provider returned an error", map[string]any{
			"error":       payload.Error,
			"description": payload.ErrorDescription,
		})
		return r.finish(Result{Status: StatusFailed, Message: message})
	}

	if payload.AccessToken == "" {
		return r.finish(Result{Status: StatusFailed, Message: "no access token found in callback"})
	}

	// OAuth-originated sessions are never persisted durable; the user did
	// not opt into remember-me on this path.
	if err := r.exchanger.LoginWithAccessToken(ctx, payload.AccessToken, false); err != nil {
		log.LogErrorWithFields("callback", "Token exchange failed", map[string]any{
			"error": err.Error(),
		})
		return r.finish(Result{Status: StatusFailed, Message: err.Error()})
	}

	result := r.finish(Result{Status: StatusExchanged})
	r.nav.Navigate(r.landing)
	return result
}

// claim atomically takes ownership of the cached attempt, replacing it
// with an exchanging marker. At most one invocation claims any given
// attempt; the rest observe the marker or the terminal record.
func (r *Reconciler) claim() (cacheRecord, bool) {
	var rec cacheRecord
	claimed := false
	r.store.CacheUpdate(func(current []byte) []byte {
		rec = cacheRecord{}
		if current != nil {
			if err := json.Unmarshal(current, &rec); err != nil {
				rec = cacheRecord{}
			}
		}
		if rec.Phase == phaseExchanging || rec.Phase == phaseDone {
			return current
		}
		claimed = true
		data, err := json.Marshal(cacheRecord{Phase: phaseExchanging})
		if err != nil {
			return current
		}
		return data
	})
	return rec, claimed
}

// finish replaces the token-bearing cache record with the terminal
// outcome and latches it in memory. The recorded outcome is what a later
// invocation of a fresh instance reports.
func (r *Reconciler) finish(result Result) Result {
	data, err := json.Marshal(cacheRecord{Phase: phaseDone, Status: result.Status, Message: result.Message})
	if err != nil {
		r.store.CacheDelete()
		return r.latch(result)
	}
	r.store.CacheSet(data)
	return r.latch(result)
}

func (r *Reconciler) latch(result Result) Result {
	r.mu.Lock()
	if r.terminal == nil {
		r.terminal = &result
	}
	done := *r.terminal
	r.mu.Unlock()

	return done
}
