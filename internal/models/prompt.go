package models

import (
	"time"

	"github.com/google/uuid"
)

type Prompt struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OwnerID     string          `json:"user_id" db:"owner_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	Versions    []PromptVersion `json:"versions"`
}

// VersionsNewestFirst returns a copy of the versions in display order.
// Versions itself is kept in creation order.
func (p *Prompt) VersionsNewestFirst() []PromptVersion {
	out := make([]PromptVersion, len(p.Versions))
	for i, v := range p.Versions {
		out[len(p.Versions)-1-i] = v
	}
	return out
}

// LatestVersion returns the most recently created version, or nil.
func (p *Prompt) LatestVersion() *PromptVersion {
	if len(p.Versions) == 0 {
		return nil
	}
	v := p.Versions[len(p.Versions)-1]
	return &v
}

type PromptVersion struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	PromptID      uuid.UUID         `json:"prompt_id" db:"prompt_id"`
	VersionTag    string            `json:"version_tag" db:"version_tag"`
	SystemPrompt  string            `json:"system_prompt" db:"system_prompt"`
	UserPrompt    string            `json:"user_prompt" db:"user_prompt"`
	Model         string            `json:"model" db:"model"`
	Temperature   float64           `json:"temperature" db:"temperature"`
	MaxTokens     int               `json:"max_tokens" db:"max_tokens"`
	CommitMessage string            `json:"commit_message,omitempty" db:"commit_message"`
	Variables     map[string]string `json:"variables,omitempty" db:"variables"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// PromptSummary is the list view of a prompt.
type PromptSummary struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       string    `json:"user_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LatestVersion string    `json:"latest_version,omitempty"`
	VersionCount  int       `json:"version_count"`
}
