// Package auth resolves API callers to users and keeps the CLI's stored
// credentials for talking to the daemon.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultUser is the principal of unauthenticated requests in local
	// mode.
	DefaultUser = "local"
	// UserHeader names the caller in local mode.
	UserHeader = "X-User-ID"

	credentialsFile = "credentials.json"
)

// ErrUnauthorized is returned for a missing or unknown bearer token.
var ErrUnauthorized = errors.New("missing or invalid credentials")

type userKey struct{}

// WithUser returns ctx carrying the authenticated user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated user, or "" if none.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

// Authenticator maps bearer tokens to users. With no tokens configured it
// runs in local mode and trusts the X-User-ID header.
type Authenticator struct {
	tokens map[string]string
}

// NewAuthenticator creates an Authenticator from a token → user map.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		copied[token] = user
	}
	return &Authenticator{tokens: copied}
}

// LocalMode reports whether requests are accepted without a token.
func (a *Authenticator) LocalMode() bool {
	return len(a.tokens) == 0
}

// Authenticate returns the user a request acts as.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.LocalMode() {
		if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
			return user, nil
		}
		return DefaultUser, nil
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrUnauthorized
	}
	for known, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", ErrUnauthorized
}

// Credentials are what the CLI presents to the daemon.
type Credentials struct {
	API       string `json:"api,omitempty"`
	Token     string `json:"token,omitempty"`
	User      string `json:"user,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Apply sets the request headers for these credentials.
func (c *Credentials) Apply(req *http.Request) {
	if c == nil {
		return
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.User != "" {
		req.Header.Set(UserHeader, c.User)
	}
}

// Manager loads and stores the CLI credentials file.
type Manager struct {
	configDir   string
	credentials *Credentials
	mu          sync.RWMutex
}

// NewManager creates a manager for credentials kept under configDir.
func NewManager(configDir string) (*Manager, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configDir: configDir}
	if err := m.loadCredentials(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return m, nil
}

// Credentials returns the stored credentials, or nil when logged out.
func (m *Manager) Credentials() *Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credentials == nil {
		return nil
	}
	creds := *m.credentials
	return &creds
}

// Login stores credentials for later CLI invocations.
func (m *Manager) Login(api, token, user string, now time.Time) error {
	if token == "" && user == "" {
		return errors.New("a token or a user is required")
	}
	m.mu.Lock()
	m.credentials = &Credentials{API: api, Token: token, User: user, CreatedAt: now.Unix()}
	m.mu.Unlock()
	return m.saveCredentials()
}

// Logout clears the stored credentials.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.credentials = nil
	m.mu.Unlock()

	if err := os.Remove(m.credentialsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

func (m *Manager) credentialsPath() string {
	return filepath.Join(m.configDir, credentialsFile)
}

func (m *Manager) loadCredentials() error {
	data, err := os.ReadFile(m.credentialsPath())
	if err != nil {
		return err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse %s: %w", credentialsFile, err)
	}

	m.mu.Lock()
	m.credentials = &creds
	m.mu.Unlock()
	return nil
}

func (m *Manager) saveCredentials() error {
	m.mu.RLock()
	creds := m.credentials
	m.mu.RUnlock()

	if creds == nil {
		return nil
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.credentialsPath(), data, 0600)
}
