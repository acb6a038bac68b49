package auth

import (
	"context"
	"sync"

	"github.com/inbucket/mailsync/pkg/config"
	"golang.org/x/oauth2"
)

// Refresher obtains a new access token from the credential issuer.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (string, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context) (string, error) {
	return f(ctx)
}

// OAuth2Refresher uses the OAuth2 refresh token grant.  A rotated refresh token is kept for the
// next call.
type OAuth2Refresher struct {
	conf *oauth2.Config

	mu           sync.Mutex
	refreshToken string
}

// NewOAuth2Refresher creates a refresher from the auth configuration.
func NewOAuth2Refresher(cfg config.Auth) *OAuth2Refresher {
	return &OAuth2Refresher{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		refreshToken: cfg.RefreshToken,
	}
}

// Refresh exchanges the refresh token for a new access token.
func (r *OAuth2Refresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: r.refreshToken}).Token()
	if err != nil {
		return "", err
	}
	if tok.RefreshToken != "" {
		r.refreshToken = tok.RefreshToken
	}
	return tok.AccessToken, nil
}
