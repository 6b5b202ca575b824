// Package auth is the identity collaborator: account creation, sessions,
// email verification and password recovery. Two providers implement it, a
// self-hosted one backed by the database and one backed by Firebase Auth.
package auth

import (
	"context"
	"sync"
	"time"
)

// Identity is an authenticated principal as known to the provider.
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Session is a bearer credential bound to an identity.
type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionEventKind distinguishes sign-in from sign-out events.
type SessionEventKind int

const (
	SignedIn SessionEventKind = iota + 1
	SignedOut
)

// SessionEvent is delivered to OnSessionChange listeners.
type SessionEvent struct {
	Kind     SessionEventKind
	Identity Identity
}

// Provider is implemented by every auth backend.
type Provider interface {
	// CreateAccount registers email/password and opens a session for it.
	CreateAccount(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, session *Session) error
	SendVerificationEmail(ctx context.Context, identity Identity) error
	RefreshAndCheckVerified(ctx context.Context, identity Identity) (bool, error)
	CurrentSession(ctx context.Context) *Session
	OnSessionChange(fn func(SessionEvent)) (unsubscribe func())
	VerifyToken(ctx context.Context, token string) (*Session, error)
	SendPasswordReset(ctx context.Context, email string) error
}

type sessionKey struct{}

// WithSession attaches the caller's session to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session attached by WithSession, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// sessionHub implements CurrentSession and OnSessionChange for providers.
type sessionHub struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(SessionEvent)
}

func (h *sessionHub) CurrentSession(ctx context.Context) *Session {
	return SessionFromContext(ctx)
}

func (h *sessionHub) OnSessionChange(fn func(SessionEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[int]func(SessionEvent))
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

func (h *sessionHub) emit(ev SessionEvent) {
	h.mu.RLock()
	fns := make([]func(SessionEvent), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
