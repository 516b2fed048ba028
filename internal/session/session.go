// Package session keeps the signed-in user's bearer token on disk and owns
// the services that should only run while someone is signed in.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession is returned when nobody is signed in.
	ErrNoSession = errors.New("not signed in")

	// ErrExpired is returned when the stored token is past its expiry.
	ErrExpired = fmt.Errorf("%w: session expired", ErrNoSession)
)

// Session is the persisted sign-in state.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Role      int       `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`

	RequirePasswordChange bool `json:"require_password_change,omitempty"`
}

// Expired reports whether the token's expiry has passed at now. A token
// without an expiry never expires locally; the server still has the last
// word through a 401.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Claims are the fields the server puts in its access tokens.
type Claims struct {
	jwt.RegisteredClaims
	RUT  int64 `json:"rut"`
	Role int   `json:"cargo"`
}

// ParseClaims decodes the claims of token without verifying the signature.
// The client has no key; it only needs the identity and expiry.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing token claims: %w", err)
	}
	if claims.RUT == 0 && claims.Subject != "" {
		if rut, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
			claims.RUT = rut
		}
	}
	return claims, nil
}

// DefaultPath returns the default location of the session file:
// ~/.local/share/fieldsync/session.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "fieldsync", "session.json"), nil
}

// load reads a session file. A missing file yields ErrNoSession.
func load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", path, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", path, err)
	}
	if s.Token == "" {
		return nil, ErrNoSession
	}
	return &s, nil
}

// save writes s to path with owner-only permissions, replacing any previous
// file atomically.
func save(path string, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

func remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session %s: %w", path, err)
	}
	return nil
}
