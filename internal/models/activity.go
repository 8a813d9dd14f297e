package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ActivityLevel string

const (
	LevelInfo    ActivityLevel = "info"
	LevelSuccess ActivityLevel = "success"
	LevelWarning ActivityLevel = "warning"
	LevelError   ActivityLevel = "error"
)

type ActivityLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OwnerID   string          `json:"user_id" db:"owner_id"`
	Level     ActivityLevel   `json:"level" db:"level"`
	Action    string          `json:"action" db:"action"`
	Message   string          `json:"message" db:"message"`
	Source    string          `json:"source" db:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
