package session

import (
	"context"
	"errors"
	"testing"

	"github.com/auditdeck/sessionkit/internal/credstore"
	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/auditdeck/sessionkit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *testutil.MockIdentityService, *credstore.Store) {
	t.Helper()
	svc := new(testutil.MockIdentityService)
	store := credstore.NewStore(credstore.NewMemoryBackend(), credstore.NewMemoryBackend())
	return NewManager(svc, store), svc, store
}

func TestLoginRememberPersistsDurable(t *testing.T) {
	m, svc, store := newTestManager(t)

	cred := &identity.Credential{AccessToken: "T1", TokenType: "bearer"}
	user := &identity.User{ID: "1", Email: "a@b.com", Role: "user"}
	svc.On("Login", mock.Anything, "a@b.com", "pw").Return(cred, nil)
	svc.On("CurrentUser", mock.Anything, cred).Return(user, nil)

	err := m.Login(context.Background(), "a@b.com", "pw", true)
	require.NoError(t, err)

	gotCred, gotUser, scope, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, credstore.ScopeDurable, scope)
	assert.Equal(t, "T1", gotCred.AccessToken)
	assert.Equal(t, "a@b.com", gotUser.Email)

	state := m.State()
	assert.True(t, state.Authenticated())
	assert.Equal(t, "user", state.User.Role)
	assert.False(t, state.Validating)
}

func TestLoginWithoutRememberIsEphemeral(t *testing.T) {
	m, svc, store := newTestManager(t)

	cred := &identity.Credential{AccessToken: "T1", TokenType: "bearer"}
	user := &identity.User{ID: "1", Email: "a@b.com", Role: "user"}
	svc.On("Login", mock.Anything, "a@b.com", "pw").Return(cred, nil)
	svc.On("CurrentUser", mock.Anything, cred).Return(user, nil)

	require.NoError(t, m.Login(context.Background(), "a@b.com", "pw", false))

	_, _, scope, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, credstore.ScopeEphemeral, scope)
}

func TestLoginRejectionPropagatesVerbatim(t *testing.T) {
	m, svc, store := newTestManager(t)

	rejection := &identity.Error{Kind: identity.KindValidation, Status: 400, Detail: "LOGIN_BAD_CREDENTIALS"}
	svc.On("Login", mock.Anything, "a@b.com", "wrong").Return(nil, rejection)

	err := m.Login(context.Background(), "a@b.com", "wrong", true)
	require.Error(t, err)
	assert.Equal(t, "LOGIN_BAD_CREDENTIALS", err.Error())

	_, _, _, ok := store.Read()
	assert.False(t, ok, "failed login must not change local state")
	assert.False(t, m.State().Authenticated())
}

func TestLoginUserLookupFailureLeavesNoSession(t *testing.T) {
	m, svc, store := newTestManager(t)

	cred := &identity.Credential{AccessToken: "T1", TokenType: "bearer"}
	svc.On("Login", mock.Anything, "a@b.com", "pw").Return(cred, nil)
	svc.On("CurrentUser", mock.Anything, cred).Return(nil, &identity.Error{Kind: identity.KindNetwork})

	err := m.Login(context.Background(), "a@b.com", "pw", true)
	require.Error(t, err)

	_, _, _, ok := store.Read()
	assert.False(t, ok)
	assert.False(t, m.State().Authenticated())
}

func TestLoginWithAccessToken(t *testing.T) {
	m, svc, store := newTestManager(t)

	cred := &identity.Credential{AccessToken: "ext-token", TokenType: "bearer"}
	user := &identity.User{ID: "2", Email: "sso@b.com", Role: "auditor"}
	svc.On("CurrentUser", mock.Anything, cred).Return(user, nil)

	require.NoError(t, m.LoginWithAccessToken(context.Background(), "ext-token", false))

	gotCred, _, scope, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, credstore.ScopeEphemeral, scope)
	assert.Equal(t, "ext-token", gotCred.AccessToken)
	assert.True(t, m.State().Authenticated())
}

func TestLoginWithAccessTokenRejected(t *testing.T) {
	m, svc, store := newTestManager(t)

	svc.On("CurrentUser", mock.Anything, mock.Anything).
		Return(nil, &identity.Error{Kind: identity.KindUnauthorized, Status: 401})

	err := m.LoginWithAccessToken(context.Background(), "bad-token", false)
	require.Error(t, err)
	assert.True(t, identity.IsUnauthorized(err))

	_, _, _, ok := store.Read()
	assert.False(t, ok)
}

func TestLogoutClearsBothScopesEvenWhenRemoteFails(t *testing.T) {
	m, svc, store := newTestManager(t)

	cred := &identity.Credential{AccessToken: "T1", TokenType: "bearer"}
	user := &identity.User{ID: "1", Email: "a@b.com", Role: "user"}
	svc.On("Login", mock.Anything, "a@b.com", "pw").Return(cred, nil)
	svc.On("CurrentUser", mock.Anything, cred).Return(user, nil)
	svc.On("Logout", mock.Anything, cred).Return(errors.New("identity service unreachable"))

	require.NoError(t, m.Login(context.Background(), "a@b.com", "pw", true))
	m.Logout(context.Background())

	_, _, _, ok := store.Read()
	assert.False(t, ok, "local state must be cleared even when remote logout fails")
	assert.False(t, m.State().Authenticated())
	svc.AssertExpectations(t)
}

func TestLogoutWithoutSessionSkipsRemoteCall(t *testing.T) {
	m, svc, _ := newTestManager(t)

	m.Logout(context.Background())

	assert.False(t, m.State().Authenticated())
	svc.AssertNotCalled(t, "Logout", mock.Anything, mock.Anything)
}

func TestInitWithoutStoredCredential(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.Init(context.Background())

	state := m.State()
	assert.False(t, state.Authenticated())
	assert.False(t, state.Validating)
}

func TestOnChangePublishesStateTransitions(t *testing.T) {
	m, svc, _ := newTestManager(t)

	cred := &identity.Credential{AccessToken: "T1", TokenType: "bearer"}
	user := &identity.User{ID: "1", Email: "a@b.com", Role: "user"}
	svc.On("Login", mock.Anything, "a@b.com", "pw").Return(cred, nil)
	svc.On("CurrentUser", mock.Anything, cred).Return(user, nil)
	svc.On("Logout", mock.Anything, cred).Return(nil)

	var published []State
	unsubscribe := m.OnChange(func(s State) {
		published = append(published, s)
	})

	require.NoError(t, m.Login(context.Background(), "a@b.com", "pw", false))
	require.Len(t, published, 1)
	assert.True(t, published[0].Authenticated())

	m.Logout(context.Background())
	require.Len(t, published, 2)
	assert.False(t, published[1].Authenticated())

	unsubscribe()
	require.NoError(t, m.Login(context.Background(), "a@b.com", "pw", false))
	assert.Len(t, published, 2, "unsubscribed listener must not be invoked")
}
