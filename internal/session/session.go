package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jssehgal/ride-share-office/internal/models"
)

// ErrNoSession means the token resolved to no authenticated user.
var ErrNoSession = errors.New("no active session")

// Adapter resolves the acting user's identity and office location. The
// implementation lives outside this service; a lookup that times out fails
// the triggering operation rather than proceeding unverified.
type Adapter interface {
	CurrentUser(ctx context.Context, token string) (*models.User, error)
}

// HTTPAdapter asks the session provider over HTTP.
type HTTPAdapter struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPAdapter(endpoint string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPAdapter{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

func (a *HTTPAdapter) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Endpoint+"/session/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoSession
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session lookup: unexpected status %d", resp.StatusCode)
	}
	var u models.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if u.ID == "" {
		return nil, ErrNoSession
	}
	return &u, nil
}

// StaticAdapter maps tokens to users in memory, for local runs and tests.
type StaticAdapter struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewStaticAdapter() *StaticAdapter {
	return &StaticAdapter{users: make(map[string]models.User)}
}

func (a *StaticAdapter) Add(token string, u models.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[token] = u
}

func (a *StaticAdapter) CurrentUser(_ context.Context, token string) (*models.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[token]
	if !ok {
		return nil, ErrNoSession
	}
	return &u, nil
}
