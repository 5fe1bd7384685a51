package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/getmockd/mcpgate/pkg/config"
)

// PasswordGrant exchanges an API key and secret for a bearer token using the
// OAuth2 resource owner password grant. The public client identity travels as
// HTTP Basic credentials.
type PasswordGrant struct {
	oauth      *oauth2.Config
	username   string
	password   string
	client     *http.Client
	defaultTTL time.Duration
	now        func() time.Time
}

// NewPasswordGrant builds a PasswordGrant from the auth configuration.
// A nil client uses http.DefaultClient.
func NewPasswordGrant(cfg config.AuthConfig, client *http.Client) *PasswordGrant {
	return &PasswordGrant{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		username:   cfg.APIKey,
		password:   cfg.APISecret,
		client:     client,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
	}
}

// Fetch performs one exchange.
func (g *PasswordGrant) Fetch(ctx context.Context) (Credential, error) {
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}

	tok, err := g.oauth.PasswordCredentialsToken(ctx, g.username, g.password)
	if err != nil {
		return Credential{}, fetchError(err)
	}

	ttl, err := g.lifetime(tok)
	if err != nil {
		return Credential{}, &AuthFetchError{Err: err}
	}
	return Credential{Value: tok.AccessToken, TTL: ttl}, nil
}

// lifetime prefers expires_in, then the exp claim of a JWT access token, then
// the configured default.
func (g *PasswordGrant) lifetime(tok *oauth2.Token) (time.Duration, error) {
	now := g.now()

	if !tok.Expiry.IsZero() {
		return checkTTL(tok.Expiry.Sub(now))
	}

	if exp, ok := jwtExpiry(tok.AccessToken); ok {
		return checkTTL(exp.Sub(now))
	}

	if g.defaultTTL <= 0 {
		return 0, errors.New("token endpoint returned no expires_in and no default lifetime is configured")
	}
	return g.defaultTTL, nil
}

func checkTTL(ttl time.Duration) (time.Duration, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("token already expired (ttl %s)", ttl)
	}
	return ttl, nil
}

// jwtExpiry reads the exp claim without verifying the signature. The token is
// only inspected for its lifetime; the backing API does the verification.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func fetchError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &AuthFetchError{
			StatusCode: re.Response.StatusCode,
			Body:       string(re.Body),
		}
	}
	return &AuthFetchError{Err: err}
}
