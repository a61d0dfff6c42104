// Package auth tracks the client's bearer-token session. The session
// core only observes two things from here: whether a token is present,
// and the logout notification that triggers the session purge.
package auth

import (
	"context"
	"fmt"
	"sync"

	"receiptbox/internal/localstore"
	"receiptbox/internal/log"
)

type Manager struct {
	mu       sync.Mutex
	kv       *localstore.Store
	logger   *log.Logger
	token    string
	email    string
	onLogout []func()
}

// NewManager loads any persisted credentials so a restarted client
// resumes its signed-in state.
func NewManager(ctx context.Context, kv *localstore.Store, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(log.Config{Component: log.ComponentAuth})
	}
	token, _, err := kv.Get(ctx, localstore.KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("load auth token: %w", err)
	}
	email, _, err := kv.Get(ctx, localstore.KeyAuthEmail)
	if err != nil {
		return nil, fmt.Errorf("load auth email: %w", err)
	}
	return &Manager{kv: kv, logger: logger, token: token, email: email}, nil
}

// Token returns the current bearer token, empty when signed out.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) Email() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.email
}

func (m *Manager) IsAuthenticated() bool {
	return m.Token() != ""
}

// OnLogout registers a callback invoked after the signed-in state
// transitions to signed-out.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

// SetCredentials stores a fresh token and account email, in memory and
// in the local store.
func (m *Manager) SetCredentials(ctx context.Context, token, email string) error {
	if token == "" {
		return fmt.Errorf("set credentials: empty token")
	}
	if err := m.kv.Set(ctx, localstore.KeyAuthToken, token); err != nil {
		return err
	}
	if err := m.kv.Set(ctx, localstore.KeyAuthEmail, email); err != nil {
		return err
	}
	m.mu.Lock()
	m.token = token
	m.email = email
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "Signed in")
	return nil
}

// Logout drops the credentials everywhere and notifies listeners. It is
// a no-op when already signed out.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	wasAuthenticated := m.token != ""
	m.token = ""
	m.email = ""
	listeners := append([]func(){}, m.onLogout...)
	m.mu.Unlock()

	if !wasAuthenticated {
		return nil
	}
	if err := m.kv.Delete(ctx, localstore.KeyAuthToken); err != nil {
		return err
	}
	if err := m.kv.Delete(ctx, localstore.KeyAuthEmail); err != nil {
		return err
	}
	for _, fn := range listeners {
		fn()
	}
	m.logger.InfoContext(ctx, "Signed out")
	return nil
}
