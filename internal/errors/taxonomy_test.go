package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_StatusMapping(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindMissingAuthHeader, http.StatusUnauthorized},
		{KindUnknownAccount, http.StatusUnauthorized},
		{KindMissingConnection, http.StatusBadRequest},
		{KindUnknownConnection, http.StatusNotFound},
		{KindConnectionAlreadyExists, http.StatusConflict},
		{KindDuplicateProviderConfig, http.StatusConflict},
		{KindRefreshTokenExternal, http.StatusBadRequest},
		{KindForbidden, http.StatusForbidden},
		{KindUnknownEndpoint, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, nil)
			assert.Equal(t, tt.status, err.Status)
			assert.Equal(t, tt.kind, err.Kind)
			assert.NotEmpty(t, err.Error())
		})
	}
}

func TestNew_UnhandledKind(t *testing.T) {
	err := New(Kind("surprise"), nil)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, Kind("unhandled_surprise"), err.Kind)
	assert.Contains(t, err.Error(), "surprise")
}

func TestError_PayloadEmbedding(t *testing.T) {
	err := New(KindRefreshTokenExternal, map[string]interface{}{
		"provider": "salesforce",
		"status":   502,
	})
	assert.Contains(t, err.Error(), "salesforce")
	assert.Contains(t, err.Error(), "502")
}

func TestIsKind(t *testing.T) {
	err := Newf(KindUnknownConnection, "connection_id", "conn-1")
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.True(t, IsKind(wrapped, KindUnknownConnection))
	assert.False(t, IsKind(wrapped, KindUnknownAccount))
	assert.False(t, IsKind(fmt.Errorf("plain"), KindUnknownConnection))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusOf(New(KindConnectionAlreadyExists, nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(fmt.Errorf("boom")))
}
