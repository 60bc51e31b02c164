package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// SessionKey holds the current session record. It is deliberately
	// unscoped: it identifies which user the scoped keys belong to.
	SessionKey = "fitme_user"

	// TokenKey holds the bearer credential for backend sync. Also unscoped.
	TokenKey = "fitme_token"

	keyPrefix = "fitme"
	guestUser = "guest"
)

// sessionRecord is the subset of the session JSON we care about.
type sessionRecord struct {
	ID    string `json:"id"`
	AltID string `json:"_id"`
}

// UserScoped namespaces every key by the active user identity so that
// multiple users on a shared store never see each other's data.
type UserScoped struct {
	kv KV
}

// NewUserScoped wraps kv with per-user key scoping.
func NewUserScoped(kv KV) *UserScoped {
	return &UserScoped{kv: kv}
}

// CurrentUserID resolves the active user from the session record,
// falling back to "guest" when the record is absent or malformed.
func (s *UserScoped) CurrentUserID() string {
	raw, err := s.kv.Get(SessionKey)
	if err != nil {
		return guestUser
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return guestUser
	}
	if rec.ID != "" {
		return rec.ID
	}
	if rec.AltID != "" {
		return rec.AltID
	}
	return guestUser
}

// Key returns the scoped form of baseKey: fitme:<userID>:<baseKey>.
func (s *UserScoped) Key(baseKey string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, s.CurrentUserID(), baseKey)
}

// Get reads the value under the scoped key. If nothing is stored there
// but a value exists under the bare baseKey (written before scoping was
// introduced), the value is moved to the scoped key first. The migration
// runs only on reads so a user switch cannot resurrect stale bare keys.
func (s *UserScoped) Get(baseKey string) (string, error) {
	s.migrateLegacy(baseKey)
	return s.kv.Get(s.Key(baseKey))
}

// Set writes the value under the scoped key.
func (s *UserScoped) Set(baseKey, value string) error {
	return s.kv.Set(s.Key(baseKey), value)
}

// Remove deletes the scoped key.
func (s *UserScoped) Remove(baseKey string) error {
	return s.kv.Remove(s.Key(baseKey))
}

// Bare exposes the underlying unscoped store for the few keys that are
// shared across users (session record, bearer token).
func (s *UserScoped) Bare() KV {
	return s.kv
}

// migrateLegacy moves a pre-scoping bare key to the scoped key. Best
// effort and idempotent: any storage failure leaves both keys untouched.
func (s *UserScoped) migrateLegacy(baseKey string) {
	scopedKey := s.Key(baseKey)
	if _, err := s.kv.Get(scopedKey); err == nil {
		return
	} else if !errors.Is(err, ErrNotFound) {
		return
	}
	legacy, err := s.kv.Get(baseKey)
	if err != nil {
		return
	}
	if err := s.kv.Set(scopedKey, legacy); err != nil {
		return
	}
	s.kv.Remove(baseKey)
}
