package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth2Credentials_Expired(t *testing.T) {
	t.Run("No Expiry Never Expires", func(t *testing.T) {
		creds := &OAuth2Credentials{AccessToken: "tok"}
		assert.False(t, creds.Expired(15*time.Minute))
	})

	t.Run("Inside Buffer", func(t *testing.T) {
		at := time.Now().Add(5 * time.Minute)
		creds := &OAuth2Credentials{AccessToken: "tok", ExpiresAt: &at}
		assert.True(t, creds.Expired(15*time.Minute))
	})

	t.Run("Outside Buffer", func(t *testing.T) {
		at := time.Now().Add(time.Hour)
		creds := &OAuth2Credentials{AccessToken: "tok", ExpiresAt: &at}
		assert.False(t, creds.Expired(15*time.Minute))
	})
}

func TestCredentialEnvelope(t *testing.T) {
	t.Run("OAuth2", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		in := &OAuth2Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: &at}

		raw, err := EncodeCredentials(in)
		require.NoError(t, err)

		out, err := DecodeCredentials(raw)
		require.NoError(t, err)
		require.Equal(t, AuthModeOAuth2, out.Mode())

		oauth2 := out.(*OAuth2Credentials)
		assert.Equal(t, "a", oauth2.AccessToken)
		assert.Equal(t, "r", oauth2.RefreshToken)
		require.NotNil(t, oauth2.ExpiresAt)
		assert.True(t, at.Equal(*oauth2.ExpiresAt))
	})

	t.Run("OAuth1", func(t *testing.T) {
		raw, err := EncodeCredentials(&OAuth1Credentials{Token: "t", TokenSecret: "s"})
		require.NoError(t, err)

		out, err := DecodeCredentials(raw)
		require.NoError(t, err)
		assert.Equal(t, AuthModeOAuth1, out.Mode())
	})

	t.Run("Unknown Tag", func(t *testing.T) {
		_, err := DecodeCredentials([]byte(`{"type": "BASIC", "data": {}}`))
		assert.Error(t, err)
	})

	t.Run("Nil Credentials", func(t *testing.T) {
		_, err := EncodeCredentials(nil)
		assert.Error(t, err)
	})
}
