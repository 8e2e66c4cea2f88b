package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryClaim
}

type memoryClaim struct {
	fingerprint string
	done        bool
	reply       Reply
	expiresAt   time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*memoryClaim)}
}

// Claim reserves the key or reports the state of the existing claim.
func (s *MemoryStore) Claim(_ context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.docID()
	existing, ok := s.items[id]
	if !ok || !now.Before(existing.expiresAt) {
		s.items[id] = &memoryClaim{
			fingerprint: key.Fingerprint,
			expiresAt:   now.Add(ttl),
		}
		return Claim{Outcome: OutcomeAccepted}, nil
	}
	if existing.fingerprint != key.Fingerprint {
		return Claim{}, ErrKeyReused
	}
	if existing.done {
		return Claim{Outcome: OutcomeReplay, Reply: existing.reply}, nil
	}
	return Claim{Outcome: OutcomeInFlight}, nil
}

// Complete stores the reply for replay.
func (s *MemoryStore) Complete(_ context.Context, key Key, reply Reply, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.docID()
	existing, ok := s.items[id]
	if ok && existing.fingerprint != key.Fingerprint {
		return ErrKeyReused
	}

	var body []byte
	if len(reply.Body) > 0 {
		body = append([]byte(nil), reply.Body...)
	}
	s.items[id] = &memoryClaim{
		fingerprint: key.Fingerprint,
		done:        true,
		reply: Reply{
			Status: reply.Status,
			Header: replayableHeader(reply.Header),
			Body:   body,
		},
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Forget drops the claim.
func (s *MemoryStore) Forget(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key.docID())
	return nil
}

// Purge removes expired claims.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, claim := range s.items {
		if removed >= limit {
			break
		}
		if !now.Before(claim.expiresAt) {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}
