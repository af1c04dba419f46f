package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
	"github.com/strataline/callflow-backend/internal/domain/event"
	"github.com/strataline/callflow-backend/internal/domain/lead"
)

// Service owns all call record mutation in response to provider events.
type Service interface {
	// Reconcile maps an inbound event onto a call record, applies the
	// field-level merge under the lifecycle machine, persists, and
	// notifies observers of applied changes.
	Reconcile(ctx context.Context, evt event.Event) (*call.Call, Outcome, error)

	// Annotate appends an operator note to a record under the same
	// per-record serialization as event reconciliation.
	Annotate(ctx context.Context, id uuid.UUID, note string) (*call.Call, error)
}

// CallRepository is the call record store as seen by the engine.
type CallRepository interface {
	Create(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (*call.Call, error)
	GetByCorrelationID(ctx context.Context, provider, correlationID string) (*call.Call, error)
	Update(ctx context.Context, c *call.Call) error
}

// LeadCorrelator resolves leads by phone number at record creation and
// propagates the last-contact timestamp.
type LeadCorrelator interface {
	FindByPhone(ctx context.Context, number string) (*lead.Lead, error)
	TouchLastContact(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Notifier receives exactly one callback per applied mutation. Notification
// failures never propagate back into reconciliation.
type Notifier interface {
	CallCreated(ctx context.Context, c *call.Call)
	CallUpdated(ctx context.Context, c *call.Call)
	CallEnded(ctx context.Context, c *call.Call)
}

// RecordLocker serializes mutators of one record across process boundaries.
// The engine always additionally holds the in-process key lock.
type RecordLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Outcome classifies what a reconciliation did.
type Outcome int

const (
	// OutcomeCreated means a new call record was created.
	OutcomeCreated Outcome = iota
	// OutcomeUpdated means an existing record changed.
	OutcomeUpdated
	// OutcomeNoOp means the event was a duplicate or stale redelivery and
	// the record is unchanged.
	OutcomeNoOp
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeNoOp:
		return "noop"
	default:
		return "unknown"
	}
}
