// Package store provides storage backends for SmartAgentSurvey run results.
//
// It includes an in-memory store plus SQLite and PostgreSQL backends behind a
// shared Store interface.
package store

import (
	"sync"
	"time"
)

// RunRecord is one persisted execution run: the serialized answer and error
// maps of a single pass over all respondents.
type RunRecord struct {
	BatchID     string
	RunIndex    int
	AnswersJSON string
	ErrorsJSON  string
	Stopped     bool
	CreatedAt   time.Time
}

// Store persists execution runs.
type Store interface {
	SaveRun(r RunRecord) error
	GetRuns(batchID string) ([]RunRecord, error)
	Close() error
}

// InMemoryStore keeps run records in memory; used when no DSN is configured
// and in tests.
type InMemoryStore struct {
	mu   sync.Mutex
	runs []RunRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// SaveRun appends a run record.
func (s *InMemoryStore) SaveRun(r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.runs = append(s.runs, r)
	return nil
}

// GetRuns returns the records of one batch in insertion order.
func (s *InMemoryStore) GetRuns(batchID string) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RunRecord
	for _, r := range s.runs {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
