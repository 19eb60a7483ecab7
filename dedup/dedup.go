package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maps-harvester/models"
	"maps-harvester/stats"
)

// ErrPersistence means an accepted record could not be written
var ErrPersistence = errors.New("persistence failed")

// Appender durably writes one establishment
type Appender interface {
	Append(ctx context.Context, e models.Establishment) error
}

// Store is the identity-keyed set of captured establishments.
// It is seeded once from the persistent store and only grows afterwards.
// Store is not safe for concurrent use; the harvest worker is its only caller.
type Store struct {
	known    map[models.Identity]models.Establishment
	appender Appender
	stats    *stats.Stats
	now      func() time.Time
}

// New creates an empty store writing accepted records through appender
func New(appender Appender, st *stats.Stats) *Store {
	return &Store{
		known:    make(map[models.Identity]models.Establishment),
		appender: appender,
		stats:    st,
		now:      time.Now,
	}
}

// Load seeds the store with previously persisted records
func (s *Store) Load(records []models.Establishment) {
	for _, r := range records {
		s.known[r.Key()] = r
	}
	s.stats.SetPreloaded(len(s.known))
}

// Accept persists the candidate unless its identity is already known.
// It returns false for duplicates and for records the appender failed to write;
// in the latter case the error is returned and the identity stays unknown.
func (s *Store) Accept(ctx context.Context, candidate models.Establishment) (bool, error) {
	key := candidate.Key()
	if _, ok := s.known[key]; ok {
		s.stats.RecordDuplicate()
		return false, nil
	}

	if candidate.CapturedAt.IsZero() {
		candidate.CapturedAt = s.now().UTC()
	}

	if err := s.appender.Append(ctx, candidate); err != nil {
		s.stats.RecordError()
		return false, fmt.Errorf("%w: save %q: %w", ErrPersistence, candidate.Name, err)
	}

	s.known[key] = candidate
	s.stats.RecordSaved()
	return true, nil
}

// Contains reports whether the identity is known
func (s *Store) Contains(id models.Identity) bool {
	_, ok := s.known[id]
	return ok
}

// Len returns the number of known identities
func (s *Store) Len() int {
	return len(s.known)
}
