package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenRefreshMargin is how long before expiry a cached token is replaced
const TokenRefreshMargin = 60 * time.Second

// tokenSource issues access tokens within the caller's context
type tokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// staticSource adapts an oauth2.TokenSource that takes no context
type staticSource struct {
	ts oauth2.TokenSource
}

func (s staticSource) Token(ctx context.Context) (*oauth2.Token, error) {
	return s.ts.Token()
}

// credentialsSource caches a client-credentials token and fetches a new one with the
// requesting context once it is within TokenRefreshMargin of expiry. When the token endpoint
// omits expires_in, the expiry is read from the access token's exp claim.
type credentialsSource struct {
	config     *clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

func newTokenSource(httpClient *http.Client, cfg Config) *credentialsSource {
	return &credentialsSource{
		config: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (s *credentialsSource) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fresh(s.token) {
		return s.token, nil
	}

	token, err := s.config.Token(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch access token",
			goerr.V("token_url", s.config.TokenURL))
	}

	if token.Expiry.IsZero() {
		if exp := jwtExpiry(token.AccessToken); !exp.IsZero() {
			token.Expiry = exp
		}
	}
	s.token = token
	return token, nil
}

// fresh reports whether t can be reused. A token without expiry never expires.
func (s *credentialsSource) fresh(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || s.now().Add(TokenRefreshMargin).Before(t.Expiry)
}

// jwtExpiry returns the exp claim of an unverified JWT, or zero when the token is opaque
func jwtExpiry(accessToken string) time.Time {
	parsed, err := jwt.ParseInsecure([]byte(accessToken))
	if err != nil {
		return time.Time{}
	}
	return parsed.Expiration()
}
