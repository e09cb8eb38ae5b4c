package repository

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"coachpay/internal/model"
)

// MemoryStore keeps records in process memory. It backs the "memory" store
// provider for local runs and the service tests.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*model.UserRecord
	processed map[string]model.ProcessedEvent
	mail      []model.MailMessage
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   map[string]*model.UserRecord{},
		processed: map[string]model.ProcessedEvent{},
		now:       time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Merge(ctx context.Context, userID string, patch model.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ApplyPatch(s.recordLocked(userID), patch, s.now())
	return nil
}

func (s *MemoryStore) AppendAccess(ctx context.Context, userID string, entry model.ResourceAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(userID)
	rec.ResourceAccessLog = append(rec.ResourceAccessLog, entry)
	return nil
}

func (s *MemoryStore) ApplyOnce(ctx context.Context, ev model.ProcessedEvent, fn ApplyFunc) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[ev.IdempotencyKey]; ok {
		return nil, ErrAlreadyProcessed
	}

	current, ok := s.records[ev.UserID]
	if !ok {
		current = emptyRecord(ev.UserID)
	}
	patch, err := fn(cloneRecord(current))
	if err != nil {
		return nil, err
	}

	rec := s.recordLocked(ev.UserID)
	ApplyPatch(rec, patch, s.now())
	s.processed[ev.IdempotencyKey] = ev
	return cloneRecord(rec), nil
}

func (s *MemoryStore) EnqueueMail(ctx context.Context, msg model.MailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mail = append(s.mail, msg)
	return nil
}

// Mail returns a copy of the outbox.
func (s *MemoryStore) Mail() []model.MailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.mail)
}

// Processed reports whether key is recorded in the idempotency ledger.
func (s *MemoryStore) Processed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[key]
	return ok
}

func (s *MemoryStore) recordLocked(userID string) *model.UserRecord {
	rec, ok := s.records[userID]
	if !ok {
		rec = emptyRecord(userID)
		rec.CreatedAt = s.now()
		s.records[userID] = rec
	}
	return rec
}

func cloneRecord(rec *model.UserRecord) *model.UserRecord {
	out := *rec
	if rec.Membership.Expiry != nil {
		exp := *rec.Membership.Expiry
		out.Membership.Expiry = &exp
	}
	out.CoachingEngagements = make(map[string]model.Engagement, len(rec.CoachingEngagements))
	for k, e := range rec.CoachingEngagements {
		if e.ScheduledDate != nil {
			d := *e.ScheduledDate
			e.ScheduledDate = &d
		}
		e.Metadata = maps.Clone(e.Metadata)
		out.CoachingEngagements[k] = e
	}
	out.ResourceAccessLog = slices.Clone(rec.ResourceAccessLog)
	return &out
}
