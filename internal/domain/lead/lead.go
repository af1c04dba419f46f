package lead

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a read-mostly collaborator entity. The pipeline only looks leads
// up by phone number at call creation and stamps their last contact time.
type Lead struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	PhoneNumber     string     `json:"phone_number"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
