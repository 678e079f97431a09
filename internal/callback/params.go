package callback

import (
	"net/url"
)

// Provider-specific key spellings, normalized to the canonical Payload
// fields. First match wins within a parameter set.
var (
	tokenKeys     = []string{"access_token", "token", "accessToken"}
	tokenTypeKeys = []string{"token_type", "tokenType"}
)

// ParseRedirect extracts callback parameters from both the URL fragment
// and the query string. The fragment takes precedence on key collision.
// An unparseable URL yields an empty payload.
func ParseRedirect(rawURL string) Payload {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Payload{}
	}

	query := u.Query()
	fragment, err := url.ParseQuery(u.EscapedFragment())
	if err != nil {
		fragment = url.Values{}
	}

	pick := func(keys ...string) string {
		for _, key := range keys {
			if v := fragment.Get(key); v != "" {
				return v
			}
		}
		for _, key := range keys {
			if v := query.Get(key); v != "" {
				return v
			}
		}
		return ""
	}

	return Payload{
		AccessToken:      pick(tokenKeys...),
		TokenType:        pick(tokenTypeKeys...),
		Error:            pick("error"),
		ErrorDescription: pick("error_description"),
	}
}

// scrubbed returns the URL with its query string and fragment removed,
// leaving only the scheme, host, and path.
func scrubbed(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
