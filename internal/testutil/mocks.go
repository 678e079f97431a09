package testutil

import (
	"context"

	"github.com/auditdeck/sessionkit/internal/identity"
	"github.com/stretchr/testify/mock"
)

// MockIdentityService is a mock implementation of session.IdentityService
type MockIdentityService struct {
	mock.Mock
}

func (m *MockIdentityService) Login(ctx context.Context, username, password string) (*identity.Credential, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Credential), args.Error(1)
}

func (m *MockIdentityService) CurrentUser(ctx context.Context, cred *identity.Credential) (*identity.User, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *MockIdentityService) Logout(ctx context.Context, cred *identity.Credential) error {
	args := m.Called(ctx, cred)
	return args.Error(0)
}

// MockNavigator is a mock implementation of callback.Navigator
type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) ReplaceURL(cleanURL string) {
	m.Called(cleanURL)
}

func (m *MockNavigator) Navigate(destURL string) {
	m.Called(destURL)
}

// MockTokenExchanger is a mock implementation of callback.TokenExchanger
type MockTokenExchanger struct {
	mock.Mock
}

func (m *MockTokenExchanger) LoginWithAccessToken(ctx context.Context, accessToken string, remember bool) error {
	args := m.Called(ctx, accessToken, remember)
	return args.Error(0)
}
