package credstore

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPair() (*identity.Credential, *identity.User) {
	return &identity.Credential{AccessToken: "T1", TokenType: "bearer"},
		&identity.User{ID: "1", Email: "a@b.com", Role: "user"}
}

func TestStorePersistExclusivity(t *testing.T) {
	for _, scope := range []Scope{ScopeDurable, ScopeEphemeral} {
		t.Run(string(scope), func(t *testing.T) {
			durable := NewMemoryBackend()
			ephemeral := NewMemoryBackend()
			store := NewStore(durable, ephemeral)

			cred, user := testPair()
			store.Persist(cred, user, scope)

			target, other := durable, ephemeral
			if scope == ScopeEphemeral {
				target, other = ephemeral, durable
			}

			_, err := target.Get(tokenKey)
			assert.NoError(t, err, "chosen scope should hold the token")
			_, err = target.Get(userKey)
			assert.NoError(t, err, "chosen scope should hold the user record")

			_, err = other.Get(tokenKey)
			assert.ErrorIs(t, err, ErrNotFound, "other scope must be empty")
			_, err = other.Get(userKey)
			assert.ErrorIs(t, err, ErrNotFound, "other scope must be empty")
		})
	}
}

func TestStorePersistClearsPreviousScope(t *testing.T) {
	durable := NewMemoryBackend()
	ephemeral := NewMemoryBackend()
	store := NewStore(durable, ephemeral)

	cred, user := testPair()
	store.Persist(cred, user, ScopeDurable)
	store.Persist(cred, user, ScopeEphemeral)

	_, err := durable.Get(tokenKey)
	assert.ErrorIs(t, err, ErrNotFound, "durable scope must be cleared after ephemeral persist")

	got, _, scope, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, ScopeEphemeral, scope)
	assert.Equal(t, "T1", got.AccessToken)
}

func TestStoreReadPrefersDurable(t *testing.T) {
	durable := NewMemoryBackend()
	ephemeral := NewMemoryBackend()
	store := NewStore(durable, ephemeral)

	// Both scopes populated directly, bypassing Persist's exclusivity
	writeRaw(t, durable, "durable-token", "durable@example.com")
	writeRaw(t, ephemeral, "ephemeral-token", "ephemeral@example.com")

	cred, user, scope, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, ScopeDurable, scope)
	assert.Equal(t, "durable-token", cred.AccessToken)
	assert.Equal(t, "durable@example.com", user.Email, "fields must never be merged across scopes")
}

func TestStoreReadEmpty(t *testing.T) {
	store := NewStore(NewMemoryBackend(), NewMemoryBackend())

	cred, user, _, ok := store.Read()
	assert.False(t, ok)
	assert.Nil(t, cred)
	assert.Nil(t, user)
}

func TestStoreClearBothScopes(t *testing.T) {
	durable := NewMemoryBackend()
	ephemeral := NewMemoryBackend()
	store := NewStore(durable, ephemeral)

	writeRaw(t, durable, "t1", "a@b.com")
	writeRaw(t, ephemeral, "t2", "c@d.com")

	store.Clear()

	for _, b := range []Backend{durable, ephemeral} {
		_, err := b.Get(tokenKey)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.Get(userKey)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestStoreUpdateUserKeepsScope(t *testing.T) {
	durable := NewMemoryBackend()
	ephemeral := NewMemoryBackend()
	store := NewStore(durable, ephemeral)

	cred, user := testPair()
	store.Persist(cred, user, ScopeDurable)

	refreshed := &identity.User{ID: "1", Email: "a@b.com", Role: "admin"}
	store.UpdateUser(refreshed, ScopeDurable)

	got, gotUser, scope, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, ScopeDurable, scope, "credential must not move between scopes")
	assert.Equal(t, "T1", got.AccessToken)
	assert.Equal(t, "admin", gotUser.Role)

	_, err := ephemeral.Get(userKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCacheLifecycle(t *testing.T) {
	store := NewStore(NewMemoryBackend(), NewMemoryBackend())

	_, ok := store.CacheGet()
	assert.False(t, ok)

	store.CacheSet([]byte(`{"access_token":"abc"}`))

	data, ok := store.CacheGet()
	require.True(t, ok)
	assert.JSONEq(t, `{"access_token":"abc"}`, string(data))

	store.CacheDelete()
	_, ok = store.CacheGet()
	assert.False(t, ok)
}

func TestStoreCacheUpdate(t *testing.T) {
	store := NewStore(NewMemoryBackend(), NewMemoryBackend())

	// Missing entry is presented as nil
	store.CacheUpdate(func(current []byte) []byte {
		assert.Nil(t, current)
		return []byte("claimed")
	})

	data, ok := store.CacheGet()
	require.True(t, ok)
	assert.Equal(t, []byte("claimed"), data)

	// Transition sees the previous value
	store.CacheUpdate(func(current []byte) []byte {
		assert.Equal(t, []byte("claimed"), current)
		return []byte("done")
	})

	data, _ = store.CacheGet()
	assert.Equal(t, []byte("done"), data)

	// Returning nil removes the entry
	store.CacheUpdate(func([]byte) []byte { return nil })
	_, ok = store.CacheGet()
	assert.False(t, ok)
}

func TestStoreCacheUpdateIsAtomic(t *testing.T) {
	store := NewStore(NewMemoryBackend(), NewMemoryBackend())
	store.CacheSet([]byte("pending"))

	// Two concurrent claimants; exactly one may observe the pending value
	var mu sync.Mutex
	var winners int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.CacheUpdate(func(current []byte) []byte {
				if string(current) == "pending" {
					mu.Lock()
					winners++
					mu.Unlock()
					return []byte("taken")
				}
				return current
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestStoreCacheIsEphemeralOnly(t *testing.T) {
	durable := NewMemoryBackend()
	ephemeral := NewMemoryBackend()
	store := NewStore(durable, ephemeral)

	store.CacheSet([]byte("payload"))

	_, err := durable.Get(callbackCacheKey)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ephemeral.Get(callbackCacheKey)
	assert.NoError(t, err)
}

// failingBackend simulates storage being unavailable (private browsing,
// quota, read-only disk)
type failingBackend struct{}

func (failingBackend) Get(string) ([]byte, error) { return nil, errors.New("storage disabled") }
func (failingBackend) Set(string, []byte) error   { return errors.New("storage disabled") }
func (failingBackend) Delete(string) error        { return errors.New("storage disabled") }

func TestStoreSwallowsBackendFailures(t *testing.T) {
	store := NewStore(failingBackend{}, failingBackend{})

	cred, user := testPair()

	assert.NotPanics(t, func() {
		store.Persist(cred, user, ScopeDurable)
		store.Clear()
		store.CacheSet([]byte("x"))
		store.CacheUpdate(func(current []byte) []byte { return current })
		store.CacheDelete()
	})

	_, _, _, ok := store.Read()
	assert.False(t, ok, "read must degrade to empty, never crash")
}

func TestStoreIgnoresCorruptCredential(t *testing.T) {
	durable := NewMemoryBackend()
	store := NewStore(durable, NewMemoryBackend())

	require.NoError(t, durable.Set(tokenKey, []byte("not json")))

	_, _, _, ok := store.Read()
	assert.False(t, ok)
}

func writeRaw(t *testing.T, b Backend, token, email string) {
	t.Helper()

	credData, err := json.Marshal(&identity.Credential{AccessToken: token})
	require.NoError(t, err)
	userData, err := json.Marshal(&identity.User{ID: "1", Email: email, Role: "user"})
	require.NoError(t, err)

	require.NoError(t, b.Set(tokenKey, credData))
	require.NoError(t, b.Set(userKey, userData))
}
