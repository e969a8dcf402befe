// Package session holds the signed-in user's credentials on the client side.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"proposalsync/internal/durable"
)

// StorageKey is where Persist keeps the credentials in a durable store.
const StorageKey = "proposalsync:session"

var ErrNoSession = errors.New("no active session")

// Credentials is what the API returns on login.
type Credentials struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Session struct {
	mu      sync.Mutex
	current *Credentials
	hooks   []func()
	now     func() time.Time
}

func New() *Session {
	return &Session{now: time.Now}
}

// Issue replaces the current credentials. Unless creds carry the same user
// and token as the credentials they replace, the clear hooks run first so
// nothing read under the previous identity survives the switch.
func (s *Session) Issue(creds Credentials) {
	s.mu.Lock()
	prev := s.current
	if prev != nil && prev.UserID == creds.UserID && prev.Token == creds.Token {
		s.current = &creds
		s.mu.Unlock()
		return
	}
	s.current = nil
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	s.mu.Lock()
	s.current = &creds
	s.mu.Unlock()
}

// Current returns the credentials, or false when signed out or expired.
func (s *Session) Current() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Credentials{}, false
	}
	if s.expired(*s.current) {
		return Credentials{}, false
	}
	return *s.current, true
}

func (s *Session) Token() (string, error) {
	creds, ok := s.Current()
	if !ok || creds.Token == "" {
		return "", ErrNoSession
	}
	return creds.Token, nil
}

// OnClear registers fn to run whenever the session is cleared.
func (s *Session) OnClear(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Clear signs out and runs the clear hooks in registration order.
func (s *Session) Clear() {
	s.mu.Lock()
	s.current = nil
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Persist writes the current credentials to store, or removes them when
// signed out.
func (s *Session) Persist(ctx context.Context, store durable.Store) error {
	creds, ok := s.Current()
	if !ok {
		if err := store.RemoveItem(ctx, StorageKey); err != nil {
			return fmt.Errorf("remove session: %w", err)
		}
		return nil
	}
	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := store.SetItem(ctx, StorageKey, string(payload)); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Restore loads credentials written by Persist without running the clear
// hooks. Expired or unreadable credentials are removed from store and clear
// the session.
func (s *Session) Restore(ctx context.Context, store durable.Store) (bool, error) {
	raw, ok, err := store.GetItem(ctx, StorageKey)
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return false, nil
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil || s.expired(creds) {
		_ = store.RemoveItem(ctx, StorageKey)
		s.Clear()
		return false, nil
	}
	s.mu.Lock()
	s.current = &creds
	s.mu.Unlock()
	return true, nil
}

func (s *Session) expired(creds Credentials) bool {
	return !creds.ExpiresAt.IsZero() && !s.now().Before(creds.ExpiresAt)
}
