package queue

import "github.com/nikhilbhutani/promptops/internal/models"

const (
	TypeOutcomeRecord = "outcome:record"
)

// QueueDefault is the only queue the worker consumes.
const QueueDefault = "default"


type OutcomeRecordPayload struct {
	Outcome models.Outcome `json:"outcome"`
}
