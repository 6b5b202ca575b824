package signup

import (
	"context"
	"log/slog"
	"sync"

	"marketplace/internal/auth"
)

// Service loads a draft, runs one flow operation on it and saves it back.
// Operations on the same draft are serialised within the process.
type Service struct {
	store    DraftStore
	auth     auth.Provider
	profiles ProfileStore
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]*draftLock
}

// draftLock is dropped from the table when its last holder or waiter
// releases it.
type draftLock struct {
	mu   sync.Mutex
	refs int
}

// NewService wires the signup service.
func NewService(store DraftStore, provider auth.Provider, profiles ProfileStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		auth:     provider,
		profiles: profiles,
		log:      log,
		locks:    make(map[string]*draftLock),
	}
}

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &draftLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *Service) heldLocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Start resets the draft under id, or creates a new draft when id is empty
// or unknown. Called on entering the signup flow.
func (s *Service) Start(ctx context.Context, id string) (*Draft, error) {
	if id != "" {
		unlock := s.lock(id)
		defer unlock()
		if old, err := s.store.Get(ctx, id); err == nil {
			s.abandon(ctx, old)
		}
	}
	d := NewDraft(id)
	if err := s.store.Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns the stored draft.
func (s *Service) Get(ctx context.Context, id string) (*Draft, error) {
	return s.store.Get(ctx, id)
}

// Do runs op on the draft and persists the result, whatever op reports.
func (s *Service) Do(ctx context.Context, id string, op func(ctx context.Context, f *Flow) bool) (*Draft, bool, error) {
	unlock := s.lock(id)
	defer unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	flow := NewFlow(d, s.auth, s.profiles, s.log)
	ok := op(ctx, flow)
	if err := s.store.Save(ctx, d); err != nil {
		return nil, false, err
	}
	return d, ok, nil
}

// Discard drops the draft. Called on leaving the signup flow.
func (s *Service) Discard(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	if d, err := s.store.Get(ctx, id); err == nil {
		s.abandon(ctx, d)
	}
	return s.store.Delete(ctx, id)
}

// abandon signs out a session left open by an unfinished signup.
func (s *Service) abandon(ctx context.Context, d *Draft) {
	if d.Session == nil {
		return
	}
	if err := s.auth.SignOut(ctx, d.Session); err != nil {
		s.log.WarnContext(ctx, "sign out of abandoned signup failed", "uid", d.Session.Identity.UID, "err", err)
	}
}
