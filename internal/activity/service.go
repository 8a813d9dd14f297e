// Package activity keeps the per-owner audit trail shown on the dashboard.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
)

// Logger records activity. Failures are logged, never returned.
type Logger interface {
	Log(ctx context.Context, entry Entry)
}

type Repository interface {
	InsertActivity(ctx context.Context, entry *models.ActivityLog) error
	// ListActivity returns the newest entries first. An empty action matches
	// every entry.
	ListActivity(ctx context.Context, ownerID, action string, limit int) ([]models.ActivityLog, error)
	// ListActivityActions returns the distinct actions recorded for the owner,
	// sorted.
	ListActivityActions(ctx context.Context, ownerID string) ([]string, error)
}

type Entry struct {
	Action  string
	Message string
	Level   models.ActivityLevel
	Source  string
	Details map[string]any
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) Log(ctx context.Context, entry Entry) {
	if entry.Level == "" {
		entry.Level = models.LevelInfo
	}
	if entry.Source == "" {
		entry.Source = "api"
	}

	var details json.RawMessage
	if len(entry.Details) > 0 {
		details, _ = json.Marshal(entry.Details)
	}

	rec := &models.ActivityLog{
		ID:        uuid.Must(uuid.NewV7()),
		OwnerID:   owner.IDFromContext(ctx),
		Level:     entry.Level,
		Action:    entry.Action,
		Message:   entry.Message,
		Source:    entry.Source,
		Metadata:  details,
		Timestamp: s.now().UTC(),
	}
	if err := s.repo.InsertActivity(ctx, rec); err != nil {
		slog.Warn("failed to record activity", "action", entry.Action, "error", err)
	}
}

// List returns the newest entries, only those with the given action when it
// is non-empty.
func (s *Service) List(ctx context.Context, action string, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	logs, err := s.repo.ListActivity(ctx, owner.IDFromContext(ctx), action, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return logs, nil
}

func (s *Service) Actions(ctx context.Context) ([]string, error) {
	actions, err := s.repo.ListActivityActions(ctx, owner.IDFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list activity actions: %w", err)
	}
	return actions, nil
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Log(context.Context, Entry) {}
