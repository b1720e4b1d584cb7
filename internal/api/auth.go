package api

import (
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/logging"
)

const accountIDKey = "account_id"

// SecretKeyAuth authenticates tenant requests via the Authorization
// header ("Bearer <secret key>"). Account ids are assigned by key
// position, starting at 1. An empty key list runs in local mode: every
// request is account 0 and authentication is skipped.
func SecretKeyAuth(secretKeys []string, logger *logging.Logger) gin.HandlerFunc {
	if len(secretKeys) == 0 {
		return func(c *gin.Context) {
			c.Set(accountIDKey, int64(0))
			c.Next()
		}
	}

	accounts := make(map[string]int64, len(secretKeys))
	for i, key := range secretKeys {
		accounts[key] = int64(i + 1)
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, errors.New(errors.KindMissingAuthHeader, nil))
			return
		}

		scheme, key, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || key == "" {
			abortWithError(c, errors.New(errors.KindMalformedAuthHeader, nil))
			return
		}

		accountID, ok := accounts[key]
		if !ok {
			logger.WarnWithContext(c.Request.Context(), "authentication failed: unknown secret key",
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			abortWithError(c, errors.New(errors.KindUnknownAccount, nil))
			return
		}

		c.Set(accountIDKey, accountID)
		c.Next()
	}
}

// accountID returns the authenticated account for the request.
func accountID(c *gin.Context) int64 {
	id, _ := c.Get(accountIDKey)
	accountID, _ := id.(int64)
	return accountID
}

// errorBody is the JSON error shape for all API failures.
type errorBody struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// abortWithError maps a classified error onto its HTTP status. Errors
// outside the taxonomy come back as a generic 500.
func abortWithError(c *gin.Context, err error) {
	kind := "internal_error"
	var classified *errors.Error
	if stderrors.As(err, &classified) {
		kind = string(classified.Kind)
	}
	c.AbortWithStatusJSON(errors.StatusOf(err), errorBody{Type: kind, Error: err.Error()})
}
