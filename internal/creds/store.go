// Package creds persists relay credentials under the client config directory.
package creds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	accessTokenFile  = "access_token"
	refreshTokenFile = "refresh_token"
)

// ErrNoToken is returned when no token is stored.
var ErrNoToken = errors.New("no stored token")

// Store is a file-backed token store.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// AccessToken returns the persisted access token, or ErrNoToken.
func (s *Store) AccessToken() (string, error) {
	return s.read(accessTokenFile)
}

// RefreshToken returns the persisted refresh token, or ErrNoToken.
func (s *Store) RefreshToken() (string, error) {
	return s.read(refreshTokenFile)
}

// SaveAccessToken persists the access token.
func (s *Store) SaveAccessToken(token string) error {
	return s.write(accessTokenFile, token)
}

// SaveRefreshToken persists the refresh token.
func (s *Store) SaveRefreshToken(token string) error {
	return s.write(refreshTokenFile, token)
}

// Clear removes all stored credentials. Missing files are not an error.
func (s *Store) Clear() error {
	var errs []error
	for _, name := range []string{accessTokenFile, refreshTokenFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (s *Store) write(name, token string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(token), 0600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
