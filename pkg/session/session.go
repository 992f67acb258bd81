// Package session is the gateway's single-instance, in-process session
// store (spec §5: "OIDC per-client state ... sessions are single-instance
// (sticky affinity) and do not cross processes", spec §6: "Persisted
// state: none owned; sessions are in-process").
//
// No library in the example pack addresses server-side session storage
// (the teacher is a stateless proxy runner with no browser session
// concept); this is plain stdlib state plus github.com/google/uuid (an
// existing pack dependency) for session-id generation.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/georchestra/gateway/pkg/model"
)

// CookieName is the session cookie set after a successful directory or
// OIDC login.
const CookieName = "GW_SESSION"

// Entry is one authenticated session's state.
type Entry struct {
	Token      *model.AuthToken
	User       *model.User
	AuthMethod string
	CreatedAt  time.Time
}

// Store is a mutex-protected, in-memory session table.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore constructs an empty session store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Get returns the session referenced by r's cookie, or nil if absent/unset.
func (s *Store) Get(r *http.Request) *Entry {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[c.Value]
}

// Create stores a new session for entry and sets the session cookie on w,
// returning the generated session id.
func (s *Store) Create(w http.ResponseWriter, r *http.Request, entry *Entry) string {
	id := uuid.NewString()
	entry.CreatedAt = time.Now()

	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// Destroy removes the session referenced by r's cookie (if any) and clears
// the cookie on w.
func (s *Store) Destroy(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		s.mu.Lock()
		delete(s.entries, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
}
