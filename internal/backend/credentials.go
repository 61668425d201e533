package backend

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/fieldops/internal/store"
)

// KV is the persisted key/value storage the credentials live in.
type KV interface {
	GetValue(key string) (string, bool, error)
	SetValue(key, value string) error
	DeleteValue(key string) error
}

// StoredCredentials keeps the login state under the accessToken,
// refreshToken and meUser keys. It implements TokenSource.
type StoredCredentials struct {
	kv KV
}

// NewStoredCredentials wraps kv.
func NewStoredCredentials(kv KV) *StoredCredentials {
	return &StoredCredentials{kv: kv}
}

// AccessToken returns the stored access token or ErrUnauthenticated.
func (s *StoredCredentials) AccessToken() (string, error) {
	tok, ok, err := s.kv.GetValue(store.KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	if !ok || tok == "" {
		return "", ErrUnauthenticated
	}
	return tok, nil
}

// Save persists a login response. The user is stored only when present.
func (s *StoredCredentials) Save(resp *LoginResponse) error {
	if err := s.kv.SetValue(store.KeyAccessToken, resp.Access); err != nil {
		return err
	}
	if resp.Refresh != "" {
		if err := s.kv.SetValue(store.KeyRefreshToken, resp.Refresh); err != nil {
			return err
		}
	}
	if resp.User != nil {
		return s.SaveUser(resp.User)
	}
	return nil
}

// SaveUser caches the authenticated account under meUser.
func (s *StoredCredentials) SaveUser(u *User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.kv.SetValue(store.KeyMeUser, string(raw))
}

// User returns the cached account, if any.
func (s *StoredCredentials) User() (*User, bool, error) {
	raw, ok, err := s.kv.GetValue(store.KeyMeUser)
	if err != nil || !ok {
		return nil, false, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", store.KeyMeUser, err)
	}
	return &u, true, nil
}

// Claims parses the stored access token.
func (s *StoredCredentials) Claims() (Claims, error) {
	tok, err := s.AccessToken()
	if err != nil {
		return Claims{}, err
	}
	return ParseClaims(tok)
}

// Clear forgets tokens and the cached account.
func (s *StoredCredentials) Clear() error {
	for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken, store.KeyMeUser} {
		if err := s.kv.DeleteValue(key); err != nil {
			return err
		}
	}
	return nil
}
