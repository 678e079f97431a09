package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auditdeck/sessionkit/internal/log"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds identity service calls when no client is injected
const DefaultTimeout = 30 * time.Second

// Credential is the opaque bearer value proving a session to the identity
// service. The client never inspects or decodes it.
type Credential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// Token converts the credential to an oauth2 token for authenticated calls
func (c *Credential) Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken: c.AccessToken,
		TokenType:   tokenType,
	}
}

// User is the identity service's user record. Only Role is consumed by
// authorization gates; everything else is carried opaquely.
type User struct {
	ID       json.Number `json:"id"`
	Email    string      `json:"email"`
	Username string      `json:"username,omitempty"`
	Role     string      `json:"role"`
}

// Client talks to the identity service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the identity client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing)
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates an identity service client for the given base URL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges a username and password for a credential.
// Service rejections are surfaced verbatim via the error's Detail.
func (c *Client) Login(ctx context.Context, username, password string) (*Credential, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp)
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, cause: fmt.Errorf("failed to decode login response: %w", err)}
	}
	if cred.AccessToken == "" {
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, Detail: "login response missing access token"}
	}

	return &cred, nil
}

// CurrentUser fetches the user record for a credential. A tagged
// Unauthorized error means the service rejected the credential.
func (c *Client) CurrentUser(ctx context.Context, cred *Credential) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/users/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}
	cred.Token().SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, cause: fmt.Errorf("failed to decode user record: %w", err)}
	}

	return &user, nil
}

// Logout notifies the identity service that the session ended. Callers
// treat this as best effort.
func (c *Client) Logout(ctx context.Context, cred *Credential) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}
	cred.Token().SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.responseError(resp)
	}
	return nil
}

// AuthorizeURL returns the browser navigation target that starts the
// external OAuth hop for the given provider. The provider eventually
// redirects back to redirectURI with token parameters in the URL.
func (c *Client) AuthorizeURL(provider, redirectURI string) string {
	u := fmt.Sprintf("%s/auth/%s/authorize", c.baseURL, provider)
	if redirectURI != "" {
		u += "?redirect_uri=" + url.QueryEscape(redirectURI)
	}
	return u
}

// responseError converts a non-200 response into a tagged error, pulling
// the service's detail message through verbatim when present.
func (c *Client) responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var detail string
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		detail = payload.Detail
	}

	kind := KindValidation
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = KindUnauthorized
	case resp.StatusCode >= 500:
		kind = KindServer
	}

	log.LogDebugWithFields("identity", "Identity service error response", map[string]any{
		"status": resp.StatusCode,
		"kind":   string(kind),
		"detail": detail,
	})

	return &Error{Kind: kind, Status: resp.StatusCode, Detail: detail}
}
