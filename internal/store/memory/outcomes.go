package memory

import (
	"context"
	"slices"
	"time"

	"github.com/nikhilbhutani/promptops/internal/models"
)

func (s *Store) InsertOutcome(_ context.Context, o *models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.outcomes[o.ID]; dup {
		return nil
	}
	stored := *o
	s.outcomes[o.ID] = &stored
	return nil
}

// ListOutcomes returns outcomes at or after since, oldest first.
func (s *Store) ListOutcomes(_ context.Context, ownerID string, since time.Time) ([]models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Outcome{}
	for _, o := range s.outcomes {
		if o.OwnerID == ownerID && !o.Timestamp.Before(since) {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b models.Outcome) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}

func (s *Store) RecentOutcomes(_ context.Context, ownerID string, limit int) ([]models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Outcome{}
	for _, o := range s.outcomes {
		if o.OwnerID == ownerID {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b models.Outcome) int { return b.Timestamp.Compare(a.Timestamp) })
	return page(out, limit, 0), nil
}

func (s *Store) DeleteOutcomesBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, o := range s.outcomes {
		if o.Timestamp.Before(before) {
			delete(s.outcomes, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertActivity(_ context.Context, entry *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activity = append(s.activity, *entry)
	return nil
}

// ListActivity returns the newest entries first.
func (s *Store) ListActivity(_ context.Context, ownerID, action string, limit int) ([]models.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ActivityLog{}
	for i := len(s.activity) - 1; i >= 0; i-- {
		a := s.activity[i]
		if a.OwnerID == ownerID && (action == "" || a.Action == action) {
			out = append(out, a)
		}
	}
	return page(out, limit, 0), nil
}

func (s *Store) ListActivityActions(_ context.Context, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []string{}
	for _, a := range s.activity {
		if a.OwnerID == ownerID && !slices.Contains(out, a.Action) {
			out = append(out, a.Action)
		}
	}
	slices.Sort(out)
	return out, nil
}
