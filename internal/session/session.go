// Package session provides auth session state and refresh for the sync core.
//
// The replay processor only needs "is my session valid, can it be refreshed";
// the Provider interface is that capability. HTTPProvider implements it
// against the field-service auth endpoint, keeping the refresh token
// encrypted at rest.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fieldsync/fieldsync/internal/crypto"
	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
)

// staleMargin is how close to expiry a session is still treated as stale:
// replay runs can take a while, so a nearly expired token is refreshed first.
const staleMargin = 60 * time.Second

// Session is an authenticated session snapshot.
type Session struct {
	AccessToken string
	ExpiresAt   int64 // unix seconds
}

// Valid reports whether the session can authenticate a call right now.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && time.Now().Unix() < s.ExpiresAt
}

// Stale reports whether the session is missing, expired, or about to expire.
func (s *Session) Stale() bool {
	if s == nil || s.AccessToken == "" {
		return true
	}
	return time.Now().Add(staleMargin).Unix() >= s.ExpiresAt
}

// Provider supplies the current session and can refresh it.
type Provider interface {
	Session(ctx context.Context) (*Session, error)
	Refresh(ctx context.Context) (*Session, error)
}

// TokenStore persists the encrypted refresh token across restarts.
type TokenStore interface {
	SaveRefreshToken(encrypted string) error
	LoadRefreshToken() (string, error)
}

// HTTPProvider implements Provider against the auth endpoint.
type HTTPProvider struct {
	mu         sync.Mutex
	authURL    string
	machineKey string
	store      TokenStore
	httpClient *http.Client
	current    *Session
}

// NewHTTPProvider creates an HTTPProvider. machineID seeds the key that
// encrypts the refresh token at rest.
func NewHTTPProvider(authURL, machineID string, store TokenStore) *HTTPProvider {
	return &HTTPProvider{
		authURL:    authURL,
		machineKey: crypto.DeriveKey(machineID),
		store:      store,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Session returns the current session snapshot, which may be nil when no
// login or refresh has happened yet.
func (p *HTTPProvider) Session(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

// SetSession installs a session obtained by the application's login flow and
// persists its refresh token encrypted.
func (p *HTTPProvider) SetSession(s *Session, refreshToken string) error {
	encrypted, err := crypto.EncryptString(refreshToken, p.machineKey)
	if err != nil {
		return fserrors.Wrap(fserrors.ErrInternal, "failed to encrypt refresh token", err)
	}
	if err := p.store.SaveRefreshToken(encrypted); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()
	return nil
}

// refreshResponse is the auth endpoint's refresh envelope.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Refresh exchanges the stored refresh token for a new session. Failure is
// session-class: a replay run seeing it must abort without touching the queue.
func (p *HTTPProvider) Refresh(ctx context.Context) (*Session, error) {
	encrypted, err := p.store.LoadRefreshToken()
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrSessionRefreshFailed, "failed to load refresh token", err)
	}
	if encrypted == "" {
		return nil, fserrors.New(fserrors.ErrSessionExpired, "no stored session; sign in again")
	}

	refreshToken, err := crypto.DecryptString(encrypted, p.machineKey)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrSessionRefreshFailed, "failed to decrypt refresh token", err)
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL+"/refresh", bytes.NewReader(body))
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrSessionRefreshFailed, "failed to build refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrSessionRefreshFailed, "refresh request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fserrors.New(fserrors.ErrSessionRefreshFailed,
			fmt.Sprintf("refresh rejected with status %d; sign in again", resp.StatusCode))
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fserrors.Wrap(fserrors.ErrSessionRefreshFailed, "failed to decode refresh response", err)
	}

	session := &Session{AccessToken: parsed.AccessToken, ExpiresAt: parsed.ExpiresAt}

	if parsed.RefreshToken != "" {
		reEncrypted, err := crypto.EncryptString(parsed.RefreshToken, p.machineKey)
		if err == nil {
			if err := p.store.SaveRefreshToken(reEncrypted); err != nil {
				logging.Warn("Failed to persist rotated refresh token", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	p.mu.Lock()
	p.current = session
	p.mu.Unlock()

	logging.Info("Session refreshed", map[string]interface{}{"expires_at": session.ExpiresAt})
	return session, nil
}

// AccessToken implements the remote API's token source: it returns the
// current token, refreshing first when the session is stale.
func (p *HTTPProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if !current.Stale() {
		return current.AccessToken, nil
	}

	refreshed, err := p.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}
