package domain

import (
	"time"

	"github.com/google/uuid"
)

// GenerationInput holds the user-facing parameters of one unit of work.
// Either Name or Prompt must be set.
type GenerationInput struct {
	Name            string  `json:"name,omitempty" validate:"max=200"`
	Category        string  `json:"category,omitempty" validate:"max=100"`
	Type            string  `json:"type,omitempty" validate:"max=100"`
	Description     string  `json:"description,omitempty" validate:"max=4000"`
	Environment     string  `json:"environment,omitempty" validate:"max=1000"`
	Prompt          string  `json:"prompt,omitempty" validate:"max=4000"`
	NegativePrompt  string  `json:"negativePrompt,omitempty" validate:"max=2000"`
	AspectRatio     string  `json:"aspectRatio,omitempty" validate:"omitempty,oneof=1:1 2:3 3:2 3:4 4:3 9:16 16:9 21:9"`
	Provider        string  `json:"provider,omitempty" validate:"max=50"`
	Model           string  `json:"model,omitempty" validate:"max=100"`
	EnhancePrompt   bool    `json:"enhancePrompt,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty" validate:"gte=0,lte=300"`
}

// WorkSpec is the serialized input of a JobItem.
type WorkSpec struct {
	ContentType GeneratedContentType `json:"contentType" validate:"content_type"`
	EntityID    uuid.UUID            `json:"entityId" validate:"uuid_set"`
	Input       GenerationInput      `json:"input"`
}

// Validate checks the fields every handler relies on.
func (w WorkSpec) Validate() error {
	return ValidateStruct(w)
}

// QueueItem is the message passed from the producer to the worker.
type QueueItem struct {
	JobID      uuid.UUID `json:"jobId"`
	JobType    string    `json:"jobType"`
	Index      int       `json:"index"`
	TotalItems int       `json:"totalItems"`
	OwnerID    uuid.UUID `json:"ownerId"`
	Work       WorkSpec  `json:"work"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
