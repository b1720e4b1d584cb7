package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

func TestParseRawCredentialsOAuth2(t *testing.T) {
	t.Run("expires_in becomes absolute expiry", func(t *testing.T) {
		creds, err := ParseRawCredentials(map[string]interface{}{
			"access_token":  "access",
			"refresh_token": "refresh",
			"expires_in":    float64(3600),
		}, models.AuthModeOAuth2)
		require.NoError(t, err)

		oauth2, ok := creds.(*models.OAuth2Credentials)
		require.True(t, ok)
		assert.Equal(t, "access", oauth2.AccessToken)
		assert.Equal(t, "refresh", oauth2.RefreshToken)
		require.NotNil(t, oauth2.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *oauth2.ExpiresAt, time.Second)
	})

	t.Run("expires_at rfc3339", func(t *testing.T) {
		creds, err := ParseRawCredentials(map[string]interface{}{
			"access_token": "access",
			"expires_at":   "2030-01-02T15:04:05Z",
		}, models.AuthModeOAuth2)
		require.NoError(t, err)

		oauth2 := creds.(*models.OAuth2Credentials)
		require.NotNil(t, oauth2.ExpiresAt)
		assert.Equal(t, 2030, oauth2.ExpiresAt.Year())
	})

	t.Run("no expiry stays nil", func(t *testing.T) {
		creds, err := ParseRawCredentials(map[string]interface{}{
			"access_token": "access",
		}, models.AuthModeOAuth2)
		require.NoError(t, err)
		assert.Nil(t, creds.(*models.OAuth2Credentials).ExpiresAt)
	})

	t.Run("missing access token", func(t *testing.T) {
		_, err := ParseRawCredentials(map[string]interface{}{
			"refresh_token": "refresh",
		}, models.AuthModeOAuth2)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindIncompleteRawCredentials))
	})
}

func TestParseRawCredentialsOAuth1(t *testing.T) {
	creds, err := ParseRawCredentials(map[string]interface{}{
		"oauth_token":        "token",
		"oauth_token_secret": "secret",
	}, models.AuthModeOAuth1)
	require.NoError(t, err)

	oauth1, ok := creds.(*models.OAuth1Credentials)
	require.True(t, ok)
	assert.Equal(t, "token", oauth1.Token)
	assert.Equal(t, "secret", oauth1.TokenSecret)

	_, err = ParseRawCredentials(map[string]interface{}{
		"oauth_token": "token",
	}, models.AuthModeOAuth1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIncompleteRawCredentials))
}

func TestParseRawCredentialsUnknownMode(t *testing.T) {
	_, err := ParseRawCredentials(map[string]interface{}{}, models.AuthMode("API_KEY"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnknownCredentialsMode))
}
