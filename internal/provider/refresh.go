package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// Refresher exchanges refresh tokens for fresh access tokens against the
// provider's token endpoint.
type Refresher struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewRefresher creates a refresher using the shared provider HTTP client.
func NewRefresher(client *http.Client) *Refresher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Refresher{httpClient: client, timeout: defaultHTTPTimeout}
}

// Refresh runs the OAuth2 refresh grant and returns the replacement
// credentials. The stored credentials are never mutated; failures come
// back as refresh_token_external_error with the provider's response in
// the payload.
func (r *Refresher) Refresh(ctx context.Context, cfg *models.ProviderConfig, template *models.ProviderTemplate, creds *models.OAuth2Credentials) (*models.OAuth2Credentials, error) {
	if creds.RefreshToken == "" {
		return nil, errors.Newf(errors.KindRefreshTokenExternal, "reason", "connection has no refresh token")
	}

	if UsesProviderClient(cfg.Provider) {
		return r.providerClientRefresh(ctx, cfg, template, creds)
	}

	conf := &oauth2.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  template.AuthorizationURL,
			TokenURL: template.TokenURL,
		},
		Scopes: splitScopes(cfg.OAuthScopes),
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	// A token with no access token is always stale, forcing the refresh
	// grant on the first Token() call.
	stale := &oauth2.Token{RefreshToken: creds.RefreshToken}
	token, err := conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	raw := map[string]interface{}{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
	}
	// x/oauth2 only exposes the provider's non-standard response fields
	// through Extra, so probe the ones providers actually send and keep
	// them in the stored payload (Salesforce instance_url, OIDC id_token).
	for _, key := range []string{"scope", "instance_url", "id_token", "api_domain", "issued_at", "signature", "id", "expires_in"} {
		if v := token.Extra(key); v != nil {
			raw[key] = v
		}
	}

	refreshed := &models.OAuth2Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Raw:          raw,
	}
	// Providers that rotate refresh tokens return a new one; the rest
	// keep the old one valid.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	refreshed.Raw["refresh_token"] = refreshed.RefreshToken
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		refreshed.ExpiresAt = &expiry
		refreshed.Raw["expires_at"] = expiry.Format(time.RFC3339)
	}

	return refreshed, nil
}

// providerClientRefresh covers providers whose token endpoint takes the
// client credentials as query parameters instead of a form body or Basic
// auth, e.g. Figma.
func (r *Refresher) providerClientRefresh(ctx context.Context, cfg *models.ProviderConfig, template *models.ProviderTemplate, creds *models.OAuth2Credentials) (*models.OAuth2Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	endpoint, err := url.Parse(template.TokenURL)
	if err != nil {
		return nil, errors.Newf(errors.KindRefreshTokenExternal, "error", err.Error())
	}
	q := endpoint.Query()
	q.Set("client_id", cfg.OAuthClientID)
	q.Set("client_secret", cfg.OAuthClientSecret)
	q.Set("refresh_token", creds.RefreshToken)
	q.Set("grant_type", "refresh_token")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Newf(errors.KindRefreshTokenExternal, "error", err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Newf(errors.KindRefreshTokenExternal, "error", err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(errors.KindRefreshTokenExternal, map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
		})
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil || grant.AccessToken == "" {
		return nil, errors.Newf(errors.KindRefreshTokenExternal, "body", string(body))
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)

	refreshed := &models.OAuth2Credentials{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Raw:          raw,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	if grant.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second).UTC()
		refreshed.ExpiresAt = &expiry
	}
	return refreshed, nil
}

func classifyRefreshError(err error) error {
	payload := map[string]interface{}{"error": err.Error()}
	if re, ok := err.(*oauth2.RetrieveError); ok {
		if re.Response != nil {
			payload["status"] = re.Response.StatusCode
		}
		if len(re.Body) > 0 {
			payload["body"] = string(re.Body)
		}
	}
	return errors.New(errors.KindRefreshTokenExternal, payload)
}

func splitScopes(scopes string) []string {
	if scopes == "" {
		return nil
	}
	parts := strings.Split(scopes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
