package onboarding

import (
	"context"
	"sync"
	"time"

	"connect-gateway/internal/domain"
)

// MemoryStore keeps the ledger in process memory. It backs dev mode and
// tests and intentionally favors clarity over performance; the byExternal
// map mirrors the postgres unique index for the reverse lookup.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]domain.AccountRecord
	byExternal map[string]string // external account id -> user id

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]domain.AccountRecord),
		byExternal: make(map[string]string),
		clock:      time.Now,
	}
}

func (s *MemoryStore) FindByUser(_ context.Context, userID string) (domain.AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[userID]; ok {
		return record, nil
	}
	return domain.AccountRecord{}, ErrNotFound
}

func (s *MemoryStore) FindByExternalAccount(_ context.Context, externalAccountID string) (domain.AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID, ok := s.byExternal[externalAccountID]; ok {
		return s.records[userID], nil
	}
	return domain.AccountRecord{}, ErrNotFound
}

func (s *MemoryStore) AttachExternalAccount(_ context.Context, userID, externalAccountID string) (domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[userID]; ok && existing.Provisioned() {
		return domain.AccountRecord{}, ErrAlreadyProvisioned
	}
	if _, ok := s.byExternal[externalAccountID]; ok {
		return domain.AccountRecord{}, ErrAlreadyProvisioned
	}

	record := domain.AccountRecord{
		UserID:            userID,
		ExternalAccountID: externalAccountID,
		Status:            domain.StatusPending,
		UpdatedAt:         s.now(userID),
	}
	s.records[userID] = record
	s.byExternal[externalAccountID] = userID
	return record, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, userID, externalAccountID string, status domain.AccountStatus) (domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok || record.ExternalAccountID != externalAccountID {
		return domain.AccountRecord{}, ErrNotFound
	}
	record.Status = status
	record.UpdatedAt = s.now(userID)
	s.records[userID] = record
	return record, nil
}

func (s *MemoryStore) UpdateStatusByExternalAccount(_ context.Context, externalAccountID string, status domain.AccountStatus) (domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byExternal[externalAccountID]
	if !ok {
		return domain.AccountRecord{}, ErrNotFound
	}
	record := s.records[userID]
	record.Status = status
	record.UpdatedAt = s.now(userID)
	s.records[userID] = record
	return record, nil
}

func (s *MemoryStore) Disconnect(_ context.Context, externalAccountID string) (domain.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byExternal[externalAccountID]
	if !ok {
		return domain.AccountRecord{}, ErrNotFound
	}
	delete(s.byExternal, externalAccountID)

	record := s.records[userID]
	record.ExternalAccountID = ""
	record.Status = domain.StatusDisconnected
	record.UpdatedAt = s.now(userID)
	s.records[userID] = record
	return record, nil
}

// now returns a server-assigned timestamp that never goes backwards for a
// record, mirroring the database clock guarantee the reconciliation ordering
// relies on.
func (s *MemoryStore) now(userID string) time.Time {
	t := s.clock()
	if prev, ok := s.records[userID]; ok && t.Before(prev.UpdatedAt) {
		return prev.UpdatedAt
	}
	return t
}

var _ Store = (*MemoryStore)(nil)
