package models

import (
	"time"

	"github.com/google/uuid"
)

type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
)

type Experiment struct {
	ID                uuid.UUID           `json:"id" db:"id"`
	PromptID          uuid.UUID           `json:"prompt_id" db:"prompt_id"`
	OwnerID           string              `json:"user_id" db:"owner_id"`
	Name              string              `json:"name" db:"name"`
	Description       string              `json:"description,omitempty" db:"description"`
	Status            ExperimentStatus    `json:"status" db:"status"`
	TrafficAllocation map[uuid.UUID]int   `json:"traffic_allocation" db:"traffic_allocation"`
	WinnerVariantID   *uuid.UUID          `json:"winner_variant_id" db:"winner_variant_id"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	StartedAt         *time.Time          `json:"started_at" db:"started_at"`
	EndedAt           *time.Time          `json:"ended_at" db:"ended_at"`
	Variants          []ExperimentVariant `json:"variants"`
}

// TotalWeight sums traffic weights across all variants.
func (e *Experiment) TotalWeight() int {
	total := 0
	for _, v := range e.Variants {
		total += v.TrafficWeight
	}
	return total
}

func (e *Experiment) Variant(id uuid.UUID) *ExperimentVariant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

type ExperimentVariant struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ExperimentID   uuid.UUID `json:"experiment_id" db:"experiment_id"`
	Name           string    `json:"name" db:"name"`
	SystemPrompt   string    `json:"system_prompt" db:"system_prompt"`
	UserPrompt     string    `json:"user_prompt" db:"user_prompt"`
	Model          string    `json:"model" db:"model"`
	Temperature    float64   `json:"temperature" db:"temperature"`
	TrafficWeight  int       `json:"traffic_weight" db:"traffic_weight"`
	RequestCount   int64     `json:"request_count" db:"request_count"`
	SuccessCount   int64     `json:"success_count" db:"success_count"`
	TotalLatencyMs int64     `json:"total_latency_ms" db:"total_latency_ms"`
	TotalTokens    int64     `json:"total_tokens" db:"total_tokens"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// AvgLatencyMs divides the cumulative latency by the request count.
func (v ExperimentVariant) AvgLatencyMs() float64 {
	if v.RequestCount == 0 {
		return 0
	}
	return float64(v.TotalLatencyMs) / float64(v.RequestCount)
}

func (v ExperimentVariant) AvgTokens() float64 {
	if v.RequestCount == 0 {
		return 0
	}
	return float64(v.TotalTokens) / float64(v.RequestCount)
}
