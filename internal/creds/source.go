package creds

import (
	"errors"
	"fmt"
)

// ErrLoginRequired means no usable credentials remain; the user must sign
// in again through the platform's login flow.
var ErrLoginRequired = errors.New("login required")

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	RefreshAccessToken(refreshToken string) (string, error)
}

// Source resolves the access token for the authenticate handshake.
// A missing access token triggers one refresh attempt; when that yields
// nothing the stored credentials are cleared and ErrLoginRequired is
// returned.
type Source struct {
	store     *Store
	refresher Refresher
}

// NewSource creates a token source over store and refresher.
func NewSource(store *Store, refresher Refresher) *Source {
	return &Source{store: store, refresher: refresher}
}

// AccessToken implements domain.TokenSource.
func (s *Source) AccessToken() (string, error) {
	token, err := s.store.AccessToken()
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNoToken) {
		return "", err
	}

	refresh, err := s.store.RefreshToken()
	if err != nil {
		_ = s.store.Clear()
		return "", ErrLoginRequired
	}

	token, err = s.refresher.RefreshAccessToken(refresh)
	if err != nil || token == "" {
		_ = s.store.Clear()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrLoginRequired, err)
		}
		return "", ErrLoginRequired
	}

	if err := s.store.SaveAccessToken(token); err != nil {
		return "", err
	}
	return token, nil
}
