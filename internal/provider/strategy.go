// Package provider talks to external OAuth providers: token refresh,
// token introspection and the shared HTTP client. Which strategy applies
// to a provider is decided here so the connection layer stays
// provider-agnostic.
package provider

// Providers whose token endpoint deviates from the standard refresh grant
// enough to need a dedicated client.
var providerClientProviders = map[string]bool{
	"figma":             true,
	"figjam":            true,
	"braintree":         true,
	"braintree-sandbox": true,
}

// Providers whose tokens can expire server-side without an expiry stamp in
// the grant. Their liveness is checked by introspection instead of clock
// math.
var introspectionProviders = map[string]bool{
	"salesforce": true,
}

// UsesProviderClient reports whether refreshes for this provider go
// through a dedicated client instead of the standard refresh grant.
func UsesProviderClient(provider string) bool {
	return providerClientProviders[provider]
}

// ShouldIntrospectToken reports whether expiry for this provider is
// determined by calling its introspection endpoint.
func ShouldIntrospectToken(provider string) bool {
	return introspectionProviders[provider]
}
