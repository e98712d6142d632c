package auth

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_LocalMode(t *testing.T) {
	a := NewAuthenticator(nil)
	require.True(t, a.LocalMode())

	req := httptest.NewRequest("GET", "/sessions", nil)
	user, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, DefaultUser, user)

	req.Header.Set(UserHeader, "alice")
	user, err = a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestAuthenticate_Tokens(t *testing.T) {
	a := NewAuthenticator(map[string]string{"s3cret": "alice", "other": "bob"})
	require.False(t, a.LocalMode())

	tests := []struct {
		name   string
		header string
		user   string
		err    error
	}{
		{"valid", "Bearer s3cret", "alice", nil},
		{"second user", "Bearer other", "bob", nil},
		{"unknown token", "Bearer nope", "", ErrUnauthorized},
		{"missing", "", "", ErrUnauthorized},
		{"wrong scheme", "Basic s3cret", "", ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/sessions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			req.Header.Set(UserHeader, "mallory")
			user, err := a.Authenticate(req)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.user, user)
		})
	}
}

func TestManager_LoginLogout(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	assert.Nil(t, m.Credentials())

	require.Error(t, m.Login("", "", "", time.Now()))
	require.NoError(t, m.Login("http://127.0.0.1:7466", "s3cret", "", time.Unix(100, 0)))

	info, err := os.Stat(filepath.Join(dir, credentialsFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := NewManager(dir)
	require.NoError(t, err)
	creds := reloaded.Credentials()
	require.NotNil(t, creds)
	assert.Equal(t, "s3cret", creds.Token)
	assert.Equal(t, int64(100), creds.CreatedAt)

	req := httptest.NewRequest("GET", "/", nil)
	creds.Apply(req)
	assert.Equal(t, "Bearer s3cret", req.Header.Get("Authorization"))

	require.NoError(t, reloaded.Logout())
	assert.Nil(t, reloaded.Credentials())
	_, err = os.Stat(filepath.Join(dir, credentialsFile))
	assert.True(t, os.IsNotExist(err))
}
