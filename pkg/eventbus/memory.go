package eventbus

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is a process-local Ledger for single worker setups and tests.
type MemoryLedger struct {
	mu        sync.Mutex
	claims    map[string]time.Time
	cancelled map[string]time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		claims:    make(map[string]time.Time),
		cancelled: make(map[string]time.Time),
	}
}

func (l *MemoryLedger) Claim(_ context.Context, jobID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiresAt, ok := l.claims[jobID]; ok && now.Before(expiresAt) {
		return false, nil
	}

	l.claims[jobID] = now.Add(ttl)

	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.claims, jobID)

	return nil
}

func (l *MemoryLedger) Extend(_ context.Context, jobID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.claims[jobID]; ok {
		l.claims[jobID] = time.Now().Add(ttl)
	}

	return nil
}

// ClaimExpiresAt reports when the claim on jobID lapses.
func (l *MemoryLedger) ClaimExpiresAt(jobID string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiresAt, ok := l.claims[jobID]

	return expiresAt, ok
}

func (l *MemoryLedger) Cancel(_ context.Context, executionID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancelled[executionID] = time.Now().Add(ttl)

	return nil
}

func (l *MemoryLedger) IsCancelled(_ context.Context, executionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiresAt, ok := l.cancelled[executionID]

	return ok && time.Now().Before(expiresAt), nil
}

type scheduled struct {
	at       time.Time
	envelope Envelope
}

// MemoryScheduler keeps delayed envelopes in process.
type MemoryScheduler struct {
	mu      sync.Mutex
	entries []scheduled
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{}
}

func (s *MemoryScheduler) Schedule(_ context.Context, envelope Envelope, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, scheduled{at: at, envelope: envelope})
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].at.Before(s.entries[j].at)
	})

	return nil
}

func (s *MemoryScheduler) Due(_ context.Context, now time.Time, limit int) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]Envelope, 0)

	for len(s.entries) > 0 && len(due) < limit && !s.entries[0].at.After(now) {
		due = append(due, s.entries[0].envelope)
		s.entries = s.entries[1:]
	}

	return due, nil
}

// Len returns how many envelopes are waiting.
func (s *MemoryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
