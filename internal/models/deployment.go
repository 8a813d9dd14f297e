package models

import (
	"time"

	"github.com/google/uuid"
)

type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentDeploying  DeploymentStatus = "deploying"
	DeploymentActive     DeploymentStatus = "active"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
	DeploymentFailed     DeploymentStatus = "failed"
)

// Terminal reports whether a record in this status can never change again.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentRolledBack || s == DeploymentFailed
}

type Deployment struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	VersionID        uuid.UUID        `json:"version_id" db:"version_id"`
	EnvironmentID    uuid.UUID        `json:"environment_id" db:"environment_id"`
	PromptID         uuid.UUID        `json:"prompt_id" db:"prompt_id"`
	OwnerID          string           `json:"user_id" db:"owner_id"`
	Status           DeploymentStatus `json:"status" db:"status"`
	Notes            string           `json:"notes,omitempty" db:"notes"`
	RolledBackFromID *uuid.UUID       `json:"rolled_back_from_id" db:"rolled_back_from_id"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	DeployedAt       *time.Time       `json:"deployed_at" db:"deployed_at"`
}
