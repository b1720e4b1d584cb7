// Package proxy forwards authenticated requests to a provider's API using
// the connection's freshly refreshed credentials. Upstream 400/403/404
// responses map onto the classified error taxonomy so API callers get the
// same error shape for proxied and native failures.
package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jakemccloskey/nango/internal/activity"
	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/logging"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/provider"
	"github.com/jakemccloskey/nango/pkg/headers"
)

// lowBudgetFraction is the remaining-quota fraction below which we warn
// that the provider is about to rate limit us.
const lowBudgetFraction = 0.05

// hopHeaders are stripped from the inbound request before forwarding.
var hopHeaders = map[string]struct{}{
	"Authorization":       {},
	"Connection":          {},
	"Host":                {},
	"Content-Length":      {},
	"Provider-Config-Key": {},
	"Connection-Id":       {},
}

// Request describes one call to forward upstream.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    io.Reader
}

// Forwarder sends proxied requests through the shared provider HTTP
// client.
type Forwarder struct {
	client *http.Client
	logger *logging.Logger
}

// NewForwarder creates a forwarder. A nil client falls back to the
// default provider client.
func NewForwarder(client *http.Client) *Forwarder {
	if client == nil {
		client = provider.NewHTTPClient()
	}
	return &Forwarder{client: client, logger: logging.NewLogger()}
}

// Forward sends the request to the provider API rooted at the template's
// base URL, authenticated with the given access token. Responses with
// status 400, 403 or 404 are consumed and returned as classified errors;
// everything else is handed back for the caller to stream. The caller
// owns the response body.
func (f *Forwarder) Forward(ctx context.Context, template *models.ProviderTemplate, accessToken string, req *Request, trail *activity.Trail) (*http.Response, error) {
	if template.BaseAPIURL == "" {
		return nil, errors.Newf(errors.KindMissingBaseAPIURL, "provider", template.Provider)
	}

	target := strings.TrimSuffix(template.BaseAPIURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	upstream, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, err
	}
	for name, values := range req.Headers {
		if _, drop := hopHeaders[http.CanonicalHeaderKey(name)]; drop {
			continue
		}
		for _, v := range values {
			upstream.Header.Add(name, v)
		}
	}
	upstream.Header.Set("Authorization", "Bearer "+accessToken)

	if trail != nil {
		trail.Info("forwarding %s %s to %s", req.Method, req.Path, template.Provider)
	}

	resp, err := f.client.Do(upstream)
	if err != nil {
		if trail != nil {
			trail.Error("proxy request to %s failed: %s", template.Provider, err.Error())
		}
		return nil, err
	}

	f.observeRateLimit(resp, template, req, trail)

	if kind, classified := classifyStatus(resp.StatusCode); classified {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if trail != nil {
			trail.Error("provider API returned %d for %s %s", resp.StatusCode, req.Method, req.Path)
		}
		return nil, errors.New(kind, map[string]interface{}{
			"status":   resp.StatusCode,
			"endpoint": req.Path,
			"body":     string(body),
		})
	}

	if trail != nil {
		trail.Info("provider API returned %d for %s %s", resp.StatusCode, req.Method, req.Path)
	}
	return resp, nil
}

// observeRateLimit reads provider rate-limit headers and warns when the
// remaining budget runs low or the provider asked us to back off.
func (f *Forwarder) observeRateLimit(resp *http.Response, template *models.ProviderTemplate, req *Request, trail *activity.Trail) {
	rl := headers.ParseRateLimit(resp.Header)
	if rl == nil {
		return
	}

	if rl.RetryAfter > 0 || resp.StatusCode == http.StatusTooManyRequests {
		f.logger.Warn("provider rate limited",
			"provider", template.Provider,
			"endpoint", req.Path,
			"retry_after", rl.RetryAfter.String())
		if trail != nil {
			trail.Info("rate limited by %s, retry after %s", template.Provider, rl.RetryAfter)
		}
		return
	}

	if rl.Low(lowBudgetFraction) {
		f.logger.Warn("provider rate limit budget low",
			"provider", template.Provider,
			"endpoint", req.Path,
			"remaining", rl.Remaining,
			"limit", rl.Limit)
	}
}

// classifyStatus maps the passthrough upstream statuses onto taxonomy
// kinds.
func classifyStatus(status int) (errors.Kind, bool) {
	switch status {
	case http.StatusBadRequest:
		return errors.KindBadRequest, true
	case http.StatusForbidden:
		return errors.KindForbidden, true
	case http.StatusNotFound:
		return errors.KindUnknownEndpoint, true
	default:
		return "", false
	}
}
