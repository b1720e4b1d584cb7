package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/jakemccloskey/nango/internal/models"
)

// Introspector checks token liveness against a provider's introspection
// endpoint for providers whose grants carry no expiry stamp.
type Introspector struct {
	httpClient *http.Client
}

// NewIntrospector creates an introspector using the shared provider
// HTTP client.
func NewIntrospector(client *http.Client) *Introspector {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Introspector{httpClient: client}
}

// TokenExpired reports whether the provider considers the access token
// dead. An unreachable or uncooperative introspection endpoint counts as
// expired so the caller refreshes rather than serving a token that may be
// revoked.
func (i *Introspector) TokenExpired(ctx context.Context, cfg *models.ProviderConfig, template *models.ProviderTemplate, creds *models.OAuth2Credentials) bool {
	endpoint := introspectionURL(template)
	if endpoint == "" {
		return false
	}

	form := url.Values{}
	form.Set("token", creds.AccessToken)
	form.Set("client_id", cfg.OAuthClientID)
	form.Set("client_secret", cfg.OAuthClientSecret)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return true
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return true
	}
	return !body.Active
}

// introspectionURL derives the introspection endpoint from the token
// endpoint, e.g. /services/oauth2/token -> /services/oauth2/introspect.
func introspectionURL(template *models.ProviderTemplate) string {
	tokenURL := template.TokenURL
	if tokenURL == "" {
		return ""
	}
	if strings.HasSuffix(tokenURL, "/token") {
		return strings.TrimSuffix(tokenURL, "/token") + "/introspect"
	}
	return ""
}
