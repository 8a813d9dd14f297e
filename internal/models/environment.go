package models

import (
	"time"

	"github.com/google/uuid"
)

type Environment struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OwnerID     string    `json:"user_id" db:"owner_id"`
	Name        string    `json:"name" db:"name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Description string    `json:"description,omitempty" db:"description"`
	IsProtected bool      `json:"is_protected" db:"is_protected"`
	Color       string    `json:"color" db:"color"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
