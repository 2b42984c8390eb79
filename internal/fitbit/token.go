package fitbit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/stridesync/stridesync/internal/observability"
)

// RefreshBuffer is how long before expiry a token is refreshed. A request is
// never issued within this window without a refresh attempt first.
const RefreshBuffer = 5 * time.Minute

// Token is the OAuth credential triple. It is replaced as a whole on refresh,
// never mutated field by field.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the token has been populated at all.
func (t Token) Valid() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

// TokenPersister stores a token durably so it survives restarts.
type TokenPersister interface {
	SaveToken(Token) error
}

// TokenStore holds the current OAuth token and refreshes it proactively.
// Refresh is single-flight: concurrent callers share one refresh call and
// await the same outcome.
type TokenStore struct {
	conf      *oauth2.Config
	persister TokenPersister
	log       *slog.Logger
	now       func() time.Time

	mu  sync.Mutex
	tok Token

	refresh singleflight.Group
}

// NewTokenStore creates a store seeded with tok. persister may be nil.
func NewTokenStore(conf *oauth2.Config, tok Token, persister TokenPersister, log *slog.Logger) *TokenStore {
	return &TokenStore{
		conf:      conf,
		persister: persister,
		log:       log,
		now:       time.Now,
		tok:       tok,
	}
}

// Current returns the stored token.
func (s *TokenStore) Current() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok
}

// AccessToken returns the current access token for the Authorization header.
func (s *TokenStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok.AccessToken
}

// SetToken replaces the token (used by the OAuth callback after a code
// exchange) and persists it.
func (s *TokenStore) SetToken(tok Token) error {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	return s.persister.SaveToken(tok)
}

// EnsureValid refreshes the token when it is within RefreshBuffer of expiry.
// On refresh failure the stale token stays in place and an *AuthError is
// returned; the caller must not retry and should trigger re-authentication.
func (s *TokenStore) EnsureValid(ctx context.Context) error {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	if !tok.Valid() {
		return &AuthError{Reason: "no stored credentials"}
	}
	if s.now().Before(tok.ExpiresAt.Add(-RefreshBuffer)) {
		return nil
	}

	_, err, _ := s.refresh.Do("refresh", func() (any, error) {
		return nil, s.doRefresh(ctx)
	})
	return err
}

func (s *TokenStore) doRefresh(ctx context.Context) error {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	// A concurrent caller may have refreshed while we waited on the
	// singleflight group.
	if s.now().Before(tok.ExpiresAt.Add(-RefreshBuffer)) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	src := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		s.log.Error("token refresh failed", "error", err)
		return &AuthError{Reason: "token refresh failed", Err: err}
	}

	next := Token{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.Expiry,
	}
	if next.RefreshToken == "" {
		// Some providers omit the refresh token when it is unchanged.
		next.RefreshToken = tok.RefreshToken
	}

	s.mu.Lock()
	s.tok = next
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveToken(next); err != nil {
			s.log.Warn("failed to persist refreshed token", "error", err)
		}
	}

	observability.RecordTokenRefresh()
	s.log.Info("refreshed OAuth token", "expires_at", next.ExpiresAt.Format(time.RFC3339))
	return nil
}
