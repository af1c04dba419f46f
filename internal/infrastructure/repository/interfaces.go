package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
	"github.com/strataline/callflow-backend/internal/domain/lead"
)

// ErrNotFound is returned when a record does not exist. Callers translate
// it to the domain not-found error at the service boundary.
var ErrNotFound = errors.New("record not found")

// CallRepository is the call record store collaborator interface.
type CallRepository interface {
	Create(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (*call.Call, error)
	GetByCorrelationID(ctx context.Context, provider, correlationID string) (*call.Call, error)
	Update(ctx context.Context, c *call.Call) error
	List(ctx context.Context) ([]*call.Call, error)
}

// LeadRepository is the lead correlator collaborator interface. The pipeline
// only reads leads by phone number and stamps their last-contact time.
type LeadRepository interface {
	FindByPhone(ctx context.Context, number string) (*lead.Lead, error)
	TouchLastContact(ctx context.Context, id uuid.UUID, at time.Time) error
}
