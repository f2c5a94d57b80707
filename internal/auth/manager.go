package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is the SSO token endpoint.
const DefaultTokenURL = "https://login.eveonline.com/v2/oauth/token"

// Config holds the SSO application credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// HTTPClient is used for token refreshes. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Manager hands out token sources that refresh through SSO and write every
// new token back to the store. One source is shared per character.
type Manager struct {
	store  *Store
	oauth  *oauth2.Config
	client *http.Client
	log    *slog.Logger

	mu      sync.Mutex
	sources map[int64]oauth2.TokenSource
}

// NewManager creates a token manager. log may be nil.
func NewManager(store *Store, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Manager{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client:  cfg.HTTPClient,
		log:     log.With("component", "auth"),
		sources: make(map[int64]oauth2.TokenSource),
	}
}

// Store returns the underlying token store.
func (m *Manager) Store() *Store {
	return m.store
}

// TokenSource returns the refreshing token source for characterID.
// Returns ErrNoToken when nothing is stored for the character.
func (m *Manager) TokenSource(ctx context.Context, characterID int64) (oauth2.TokenSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts, ok := m.sources[characterID]; ok {
		return ts, nil
	}

	stored, err := m.store.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       stored.ExpiresAt,
	}

	// Refreshes outlive the caller's request context.
	refreshCtx := context.WithoutCancel(ctx)
	if m.client != nil {
		refreshCtx = context.WithValue(refreshCtx, oauth2.HTTPClient, m.client)
	}

	ps := &persistingSource{
		base:        m.oauth.TokenSource(refreshCtx, tok),
		store:       m.store,
		characterID: characterID,
		scopes:      stored.Scopes,
		last:        stored.AccessToken,
		log:         m.log,
	}
	ts := oauth2.ReuseTokenSource(tok, ps)
	m.sources[characterID] = ts
	return ts, nil
}

// Import stores a refresh token for a character. The access token is
// obtained on first use.
func (m *Manager) Import(ctx context.Context, characterID int64, refreshToken string, scopes []string) error {
	m.mu.Lock()
	delete(m.sources, characterID)
	m.mu.Unlock()

	return m.store.Save(ctx, &Token{
		CharacterID:  characterID,
		RefreshToken: refreshToken,
		Scopes:       scopes,
	})
}

// persistingSource saves each newly issued token so a rotated refresh token
// is never lost between runs.
type persistingSource struct {
	base        oauth2.TokenSource
	store       *Store
	characterID int64
	scopes      []string
	log         *slog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for character %d: %w", p.characterID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.store.Save(ctx, &Token{
		CharacterID:  p.characterID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       p.scopes,
	})
	if err != nil {
		// The token is still usable for this run.
		p.log.Warn("failed to persist refreshed token", "character_id", p.characterID, "error", err)
		return tok, nil
	}
	p.last = tok.AccessToken
	p.log.Debug("token refreshed", "character_id", p.characterID, "expires_at", tok.Expiry)
	return tok, nil
}
