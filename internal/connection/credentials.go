package connection

import (
	"fmt"
	"time"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// ParseRawCredentials converts a provider token response or user-supplied
// object into typed credentials. Required fields per mode: access_token
// for OAuth2, oauth_token and oauth_token_secret for OAuth1.
func ParseRawCredentials(raw map[string]interface{}, mode models.AuthMode) (models.Credentials, error) {
	switch mode {
	case models.AuthModeOAuth2:
		accessToken, _ := raw["access_token"].(string)
		if accessToken == "" {
			return nil, errors.Newf(errors.KindIncompleteRawCredentials, "missing", "access_token")
		}
		creds := &models.OAuth2Credentials{
			AccessToken: accessToken,
			Raw:         raw,
		}
		if refreshToken, _ := raw["refresh_token"].(string); refreshToken != "" {
			creds.RefreshToken = refreshToken
		}
		creds.ExpiresAt = parseExpiry(raw)
		return creds, nil

	case models.AuthModeOAuth1:
		token, _ := raw["oauth_token"].(string)
		secret, _ := raw["oauth_token_secret"].(string)
		if token == "" || secret == "" {
			return nil, errors.Newf(errors.KindIncompleteRawCredentials, "missing", "oauth_token, oauth_token_secret")
		}
		return &models.OAuth1Credentials{
			Token:       token,
			TokenSecret: secret,
			Raw:         raw,
		}, nil

	default:
		return nil, errors.Newf(errors.KindUnknownCredentialsMode, "mode", string(mode))
	}
}

// parseExpiry normalizes the expiry forms providers emit: a relative
// expires_in in seconds, or an absolute expires_at as RFC 3339 or epoch
// seconds.
func parseExpiry(raw map[string]interface{}) *time.Time {
	if v, ok := raw["expires_in"]; ok {
		if secs, ok := numericValue(v); ok && secs > 0 {
			t := time.Now().Add(time.Duration(secs) * time.Second).UTC()
			return &t
		}
	}

	switch v := raw["expires_at"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			t = t.UTC()
			return &t
		}
	default:
		if secs, ok := numericValue(v); ok && secs > 0 {
			t := time.Unix(secs, 0).UTC()
			return &t
		}
	}
	return nil
}

// numericValue accepts the number shapes JSON decoding and providers
// produce: float64 from encoding/json, plus int forms and numeric strings.
func numericValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		var secs int64
		if _, err := fmt.Sscanf(n, "%d", &secs); err == nil {
			return secs, true
		}
	}
	return 0, false
}
