package signup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace/internal/cache"
	"marketplace/internal/models"

	"github.com/redis/go-redis/v9"
)

// DraftStore persists drafts between requests of one client.
type DraftStore interface {
	// Get returns a NotFound AppError when id is unknown or expired.
	Get(ctx context.Context, id string) (*Draft, error)
	Save(ctx context.Context, d *Draft) error
	Delete(ctx context.Context, id string) error
}

func draftNotFound(id string) error {
	return models.NewNotFoundError("Signup draft", id)
}

// MemoryDraftStore keeps drafts in process memory with a TTL.
type MemoryDraftStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	drafts map[string]memoryDraft
}

type memoryDraft struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryDraftStore creates an in-memory store whose entries expire after
// ttl of inactivity.
func NewMemoryDraftStore(ttl time.Duration) *MemoryDraftStore {
	return &MemoryDraftStore{
		ttl:    ttl,
		now:    time.Now,
		drafts: make(map[string]memoryDraft),
	}
}

func (s *MemoryDraftStore) Get(_ context.Context, id string) (*Draft, error) {
	s.mu.Lock()
	entry, ok := s.drafts[id]
	if ok && !s.now().Before(entry.expiresAt) {
		delete(s.drafts, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, draftNotFound(id)
	}
	return decodeDraft(entry.data)
}

func (s *MemoryDraftStore) Save(_ context.Context, d *Draft) error {
	// Stored encoded so callers never share a draft.
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.ID] = memoryDraft{data: data, expiresAt: s.now().Add(s.ttl)}
	s.sweepLocked()
	return nil
}

func (s *MemoryDraftStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	return nil
}

func (s *MemoryDraftStore) sweepLocked() {
	now := s.now()
	for id, entry := range s.drafts {
		if !now.Before(entry.expiresAt) {
			delete(s.drafts, id)
		}
	}
}

// RedisDraftStore keeps drafts in Redis as JSON with a sliding TTL.
type RedisDraftStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDraftStore creates a Redis-backed store.
func NewRedisDraftStore(rdb *redis.Client, ttl time.Duration) *RedisDraftStore {
	return &RedisDraftStore{rdb: rdb, ttl: ttl}
}

func (s *RedisDraftStore) Get(ctx context.Context, id string) (*Draft, error) {
	data, err := s.rdb.Get(ctx, cache.SignupDraftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, draftNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	return decodeDraft(data)
}

func (s *RedisDraftStore) Save(ctx context.Context, d *Draft) error {
	return cache.SetJSON(ctx, s.rdb, cache.SignupDraftKey(d.ID), d, s.ttl)
}

func (s *RedisDraftStore) Delete(ctx context.Context, id string) error {
	return cache.Invalidate(ctx, s.rdb, cache.SignupDraftKey(id))
}

func decodeDraft(data []byte) (*Draft, error) {
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	d.ensureMaps()
	return &d, nil
}
