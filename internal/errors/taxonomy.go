package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind identifies one member of the closed API error taxonomy. Every kind
// maps onto a fixed HTTP status and message template; kinds outside the
// set degrade to a generic 500 instead of crashing.
type Kind string

const (
	KindMissingAuthHeader        Kind = "missing_auth_header"
	KindMalformedAuthHeader      Kind = "malformed_auth_header"
	KindUnknownAccount           Kind = "unknown_account"
	KindMissingConnection        Kind = "missing_connection"
	KindUnknownConnection        Kind = "unknown_connection"
	KindMissingProviderConfig    Kind = "missing_provider_config"
	KindUnknownProviderConfig    Kind = "unknown_provider_config"
	KindUnknownProviderTemplate  Kind = "unknown_provider_template"
	KindDuplicateProviderConfig  Kind = "duplicate_provider_config"
	KindConnectionAlreadyExists  Kind = "connection_already_exists"
	KindIncompleteRawCredentials Kind = "incomplete_raw_credentials"
	KindUnknownCredentialsMode   Kind = "unknown_credentials_mode"
	KindRefreshTokenExternal     Kind = "refresh_token_external_error"
	KindMissingBaseAPIURL        Kind = "missing_base_api_url"
	KindUnknownSyncConfig        Kind = "unknown_sync_config"
	KindUnknownEndpoint          Kind = "unknown_endpoint"
	KindForbidden                Kind = "forbidden"
	KindBadRequest               Kind = "bad_request"
)

// Error is a classified API failure built from a (kind, payload) pair.
type Error struct {
	Kind    Kind
	Status  int
	Payload map[string]interface{}
	message string
}

// New constructs a classified error. The optional payload is embedded in
// the message for diagnosability.
func New(kind Kind, payload map[string]interface{}) *Error {
	e := &Error{Kind: kind, Payload: payload}

	switch kind {
	case KindMissingAuthHeader:
		e.Status = http.StatusUnauthorized
		e.message = "Authentication failed. The request is missing the Authorization header."
	case KindMalformedAuthHeader:
		e.Status = http.StatusUnauthorized
		e.message = "Authentication failed. The Authorization header is malformed."
	case KindUnknownAccount:
		e.Status = http.StatusUnauthorized
		e.message = "Authentication failed. The provided secret key does not match any account."
	case KindMissingConnection:
		e.Status = http.StatusBadRequest
		e.message = "Missing param 'connection_id'."
	case KindUnknownConnection:
		e.Status = http.StatusNotFound
		e.message = "No connection matching the provided 'connection_id' and 'provider_config_key'."
	case KindMissingProviderConfig:
		e.Status = http.StatusBadRequest
		e.message = "Missing param 'provider_config_key'."
	case KindUnknownProviderConfig:
		e.Status = http.StatusBadRequest
		e.message = "There is no provider configuration matching this key."
	case KindUnknownProviderTemplate:
		e.Status = http.StatusBadRequest
		e.message = "No provider template matching the 'provider' parameter."
	case KindDuplicateProviderConfig:
		e.Status = http.StatusConflict
		e.message = "There is already a provider configuration matching the param 'provider_config_key'."
	case KindConnectionAlreadyExists:
		e.Status = http.StatusConflict
		e.message = "A connection already exists for this provider configuration."
	case KindIncompleteRawCredentials:
		e.Status = http.StatusBadRequest
		e.message = "The provided credentials are incomplete for the requested auth mode."
	case KindUnknownCredentialsMode:
		e.Status = http.StatusBadRequest
		e.message = "Cannot parse credentials, unknown credentials type."
	case KindRefreshTokenExternal:
		e.Status = http.StatusBadRequest
		e.message = "The external API returned an error when trying to refresh the access token. Please try again later."
	case KindMissingBaseAPIURL:
		e.Status = http.StatusBadRequest
		e.message = "The proxy is not supported for this provider. The template has no base API URL."
	case KindUnknownSyncConfig:
		e.Status = http.StatusNotFound
		e.message = "No sync configuration matching the provided sync name."
	case KindUnknownEndpoint:
		e.Status = http.StatusNotFound
		e.message = "The API endpoint could not be found and returned a 404. Make sure the endpoint is spelled correctly."
	case KindForbidden:
		e.Status = http.StatusForbidden
		e.message = "The API endpoint returned back a 403 error. Check the scopes requested for the connection."
	case KindBadRequest:
		e.Status = http.StatusBadRequest
		e.message = "The API endpoint returned back a 400 error. Check the request headers and parameters."
	default:
		e.Kind = Kind("unhandled_" + string(kind))
		e.Status = http.StatusInternalServerError
		e.message = fmt.Sprintf("An unhandled error has occurred: %s", kind)
	}

	return e
}

// Newf is shorthand for New with a single-entry payload.
func Newf(kind Kind, key string, value interface{}) *Error {
	return New(kind, map[string]interface{}{key: value})
}

func (e *Error) Error() string {
	if len(e.Payload) == 0 {
		return e.message
	}
	detail, err := json.Marshal(e.Payload)
	if err != nil {
		return e.message
	}
	return fmt.Sprintf("%s %s", e.message, detail)
}

// Is matches on kind so callers can compare against sentinel errors.
func (e *Error) Is(target error) bool {
	var other *Error
	if !stderrors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// StatusOf returns the HTTP status for an error, defaulting to 500 for
// anything outside the taxonomy.
func StatusOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
