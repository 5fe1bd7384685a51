// Package credential caches the short-lived bearer token used for backing API
// calls.
//
// A Cache hands out the current token while it is fresh and refreshes it
// proactively once the remaining lifetime drops inside the refresh buffer.
// Concurrent callers that find the token stale share a single exchange: one
// caller starts it, the rest join it, and all of them observe the same value
// or the same *AuthFetchError.
//
// PasswordGrant is the Fetcher used in production. It performs an OAuth2
// resource owner password grant against the configured token endpoint.
package credential
