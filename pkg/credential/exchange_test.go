package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mcpgate/pkg/config"
)

func tokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, config.AuthConfig) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	cfg := config.Default().Auth
	cfg.TokenURL = srv.URL + "/oauth/token"
	cfg.ClientID = "public-cli"
	cfg.ClientSecret = "public-secret"
	cfg.APIKey = "my-key"
	cfg.APISecret = "my-secret"
	return srv, cfg
}

func writeToken(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestPasswordGrant_RequestShape(t *testing.T) {
	t.Parallel()

	srv, cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "public-cli", user)
		assert.Equal(t, "public-secret", pass)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "my-key", r.PostForm.Get("username"))
		assert.Equal(t, "my-secret", r.PostForm.Get("password"))

		writeToken(w, `{"access_token":"abc123","token_type":"bearer","expires_in":3600}`)
	})

	cred, err := NewPasswordGrant(cfg, srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", cred.Value)
	assert.InDelta(t, float64(time.Hour), float64(cred.TTL), float64(5*time.Second))
}

func TestPasswordGrant_Non2xx(t *testing.T) {
	t.Parallel()

	srv, cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := NewPasswordGrant(cfg, srv.Client()).Fetch(context.Background())
	var afe *AuthFetchError
	require.ErrorAs(t, err, &afe)
	assert.Equal(t, http.StatusUnauthorized, afe.StatusCode)
	assert.Contains(t, afe.Body, "invalid_grant")
}

func TestPasswordGrant_TransportFailure(t *testing.T) {
	t.Parallel()

	srv, cfg := tokenServer(t, func(http.ResponseWriter, *http.Request) {})
	srv.Close()

	_, err := NewPasswordGrant(cfg, srv.Client()).Fetch(context.Background())
	var afe *AuthFetchError
	require.ErrorAs(t, err, &afe)
	assert.Zero(t, afe.StatusCode)
	assert.Error(t, afe.Err)
}

func TestPasswordGrant_JWTExpiryFallback(t *testing.T) {
	t.Parallel()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "my-key",
		"exp": time.Now().Add(30 * time.Minute).Unix(),
	}).SignedString([]byte("signing-key"))
	require.NoError(t, err)

	srv, cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, `{"access_token":"`+raw+`","token_type":"bearer"}`)
	})

	cred, err := NewPasswordGrant(cfg, srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, cred.Value)
	assert.InDelta(t, float64(30*time.Minute), float64(cred.TTL), float64(5*time.Second))
}

func TestPasswordGrant_DefaultTTL(t *testing.T) {
	t.Parallel()

	srv, cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, `{"access_token":"opaque","token_type":"bearer"}`)
	})
	cfg.DefaultTTL = 45 * time.Minute

	cred, err := NewPasswordGrant(cfg, srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cred.TTL)
}

func TestPasswordGrant_ExpiredJWT(t *testing.T) {
	t.Parallel()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("signing-key"))
	require.NoError(t, err)

	srv, cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, `{"access_token":"`+raw+`"}`)
	})

	_, err = NewPasswordGrant(cfg, srv.Client()).Fetch(context.Background())
	var afe *AuthFetchError
	require.ErrorAs(t, err, &afe)
	assert.Contains(t, afe.Error(), "expired")
}

func TestPasswordGrant_WithCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv, cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeToken(w, `{"access_token":"cached","expires_in":3600}`)
	})

	c := New(NewPasswordGrant(cfg, srv.Client()))
	for i := 0; i < 3; i++ {
		tok, err := c.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cached", tok)
	}
	assert.Equal(t, int32(1), hits.Load())
}
