package models

import (
	"time"

	"github.com/google/uuid"
)

type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeError     OutcomeStatus = "error"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Outcome is the terminal record of one inference run.
type Outcome struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	OwnerID             string        `json:"user_id" db:"owner_id"`
	PromptID            *uuid.UUID    `json:"prompt_id,omitempty" db:"prompt_id"`
	VersionID           *uuid.UUID    `json:"version_id,omitempty" db:"version_id"`
	DeploymentID        *uuid.UUID    `json:"deployment_id,omitempty" db:"deployment_id"`
	ExperimentVariantID *uuid.UUID    `json:"experiment_variant_id,omitempty" db:"experiment_variant_id"`
	Model               string        `json:"model" db:"model"`
	Status              OutcomeStatus `json:"status" db:"status"`
	LatencyMs           int64         `json:"latency_ms" db:"latency_ms"`
	InputTokens         int           `json:"input_tokens" db:"input_tokens"`
	OutputTokens        int           `json:"output_tokens" db:"output_tokens"`
	TotalTokens         int           `json:"total_tokens" db:"total_tokens"`
	EstimatedCostCents  float64       `json:"estimated_cost_cents" db:"estimated_cost_cents"`
	ErrorMessage        string        `json:"error_message,omitempty" db:"error_message"`
	Timestamp           time.Time     `json:"timestamp" db:"timestamp"`
}

func (o Outcome) Success() bool { return o.Status == OutcomeSuccess }
