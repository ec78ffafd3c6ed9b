package keypool

import (
	"context"
	"sync"
	"time"

	"github.com/gptproxy/gptproxy/internal/models"
)

// SelectedKey is what the relay needs to make one upstream call.
type SelectedKey struct {
	ID     string
	Secret string
}

// Selector hands out active keys round-robin. It works off a cached snapshot
// of the active set so the hot path does not hit the database per request;
// the snapshot is refreshed when it is older than refreshEvery or when a
// mutation invalidates it. Keys disabled between refreshes are excluded
// immediately via tombstones, so a key reported dead never comes out of
// Pick again even before the snapshot catches up.
type Selector struct {
	store        Store
	refreshEvery time.Duration
	maxActive    int
	now          func() time.Time

	mu        sync.Mutex
	snapshot  []SelectedKey
	cursor    int
	disabled  map[string]struct{}
	fetchedAt time.Time
}

// NewSelector constructs a Selector. maxActive caps how many active keys one
// snapshot rotates over; non-positive means unlimited.
func NewSelector(store Store, refreshEvery time.Duration, maxActive int) *Selector {
	return &Selector{
		store:        store,
		refreshEvery: refreshEvery,
		maxActive:    maxActive,
		now:          time.Now,
		disabled:     make(map[string]struct{}),
	}
}

// Pick returns the next active key in rotation, or ErrNoActiveKey when the
// pool has no usable key.
func (s *Selector) Pick(ctx context.Context) (SelectedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stale() {
		if errRefresh := s.refreshLocked(ctx); errRefresh != nil {
			return SelectedKey{}, errRefresh
		}
	}
	if key, ok := s.nextLocked(); ok {
		return key, nil
	}

	// Everything in the snapshot is tombstoned (or the snapshot is empty).
	// Re-read the database once before giving up; an admin may have
	// re-enabled keys since the last refresh.
	if errRefresh := s.refreshLocked(ctx); errRefresh != nil {
		return SelectedKey{}, errRefresh
	}
	if key, ok := s.nextLocked(); ok {
		return key, nil
	}
	return SelectedKey{}, ErrNoActiveKey
}

// MarkDisabled excludes a key from rotation immediately, without waiting for
// the next snapshot refresh.
func (s *Selector) MarkDisabled(keyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[keyID] = struct{}{}
}

// Invalidate forces the next Pick to rebuild the snapshot from the database.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchedAt = time.Time{}
}

func (s *Selector) stale() bool {
	if s.fetchedAt.IsZero() {
		return true
	}
	return s.now().Sub(s.fetchedAt) >= s.refreshEvery
}

func (s *Selector) refreshLocked(ctx context.Context) error {
	rows, errList := s.store.ListByStatus(ctx, models.KeyStatusActive, s.maxActive)
	if errList != nil {
		return errList
	}
	snapshot := make([]SelectedKey, 0, len(rows))
	for _, row := range rows {
		snapshot = append(snapshot, SelectedKey{ID: row.ID, Secret: row.Secret})
	}
	s.snapshot = snapshot
	s.disabled = make(map[string]struct{})
	s.fetchedAt = s.now()
	if s.cursor >= len(s.snapshot) {
		s.cursor = 0
	}
	return nil
}

// nextLocked advances the cursor to the next non-tombstoned entry. It scans
// at most one full rotation.
func (s *Selector) nextLocked() (SelectedKey, bool) {
	n := len(s.snapshot)
	for i := 0; i < n; i++ {
		key := s.snapshot[s.cursor%n]
		s.cursor = (s.cursor + 1) % n
		if _, gone := s.disabled[key.ID]; gone {
			continue
		}
		return key, true
	}
	return SelectedKey{}, false
}
