// Package session persists the login result on the client and rebuilds the
// in-memory auth state from it.
//
// MemoryStorage suits tests and short-lived clients. SQLiteStorage keeps the
// session across restarts of the embedding process.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deckauth/protocol"
	"deckauth/token"
)

// Storage keys.
const (
	TokenKey   = "auth_token"
	ProfileKey = "user_data"
)

// AuthState is the client view of the current login.
type AuthState struct {
	Token   string
	Claims  token.Claims
	Profile *protocol.Profile
}

// Authenticated reports whether a profile is present.
func (s AuthState) Authenticated() bool { return s.Profile != nil }

// Store reads and writes the persisted session.
type Store struct {
	storage Storage
	codec   token.Codec
	now     func() time.Time
	logger  *slog.Logger
}

// NewStore constructs a Store. A nil codec means token.ClientCodec, which
// accepts both unsigned and signed tokens.
func NewStore(storage Storage, codec token.Codec, logger *slog.Logger) *Store {
	if codec == nil {
		codec = token.ClientCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{storage: storage, codec: codec, now: time.Now, logger: logger}
}

// Load returns the persisted state, clearing storage when it is partial,
// undecodable or expired.
func (s *Store) Load() AuthState {
	state, reason := s.load()
	if reason != "" {
		s.logger.Info("session.discarded", "reason", reason)
		if err := s.Clear(); err != nil {
			s.logger.Warn("session.clear_failed", "error", err)
		}
		return AuthState{}
	}
	return state
}

func (s *Store) load() (AuthState, string) {
	rawToken, hasToken, err := s.storage.GetItem(TokenKey)
	if err != nil {
		return AuthState{}, "read token: " + err.Error()
	}
	rawProfile, hasProfile, err := s.storage.GetItem(ProfileKey)
	if err != nil {
		return AuthState{}, "read profile: " + err.Error()
	}
	switch {
	case !hasToken && !hasProfile:
		return AuthState{}, ""
	case !hasToken || !hasProfile:
		return AuthState{}, "partial"
	}

	claims, err := s.codec.Decode(rawToken)
	if err != nil {
		return AuthState{}, "malformed"
	}
	if token.IsExpired(claims, s.now()) {
		return AuthState{}, "expired"
	}

	var profile protocol.Profile
	if err := json.Unmarshal([]byte(rawProfile), &profile); err != nil {
		return AuthState{}, "profile unreadable"
	}
	return AuthState{Token: rawToken, Claims: claims, Profile: &profile}, ""
}

// Save persists the token and profile.
func (s *Store) Save(tok string, profile protocol.Profile) error {
	b, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.storage.SetItem(TokenKey, tok); err != nil {
		return err
	}
	return s.storage.SetItem(ProfileKey, string(b))
}

// Clear removes both entries.
func (s *Store) Clear() error {
	return errors.Join(
		s.storage.RemoveItem(TokenKey),
		s.storage.RemoveItem(ProfileKey),
	)
}

// Manager owns the in-memory AuthState and keeps it in step with the Store.
type Manager struct {
	store *Store

	mu    sync.RWMutex
	state AuthState
}

// NewManager constructs a Manager; call Hydrate to load persisted state.
func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// Hydrate replaces the in-memory state with the persisted one.
func (m *Manager) Hydrate() AuthState {
	state := m.store.Load()
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	return state
}

// Save persists a fresh login and makes it current. A token that does not
// decode or is already expired is rejected.
func (m *Manager) Save(tok string, profile protocol.Profile) error {
	claims, err := m.store.codec.Decode(tok)
	if err != nil {
		return err
	}
	if token.IsExpired(claims, m.store.now()) {
		return errors.New("session: token already expired")
	}
	if err := m.store.Save(tok, profile); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = AuthState{Token: tok, Claims: claims, Profile: &profile}
	m.mu.Unlock()
	return nil
}

// Logout clears the in-memory and persisted state.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.state = AuthState{}
	m.mu.Unlock()
	return m.store.Clear()
}

// State returns the current state.
func (m *Manager) State() AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Authenticated reports whether a user is logged in.
func (m *Manager) Authenticated() bool {
	return m.State().Authenticated()
}
