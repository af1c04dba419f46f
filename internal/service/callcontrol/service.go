// Package callcontrol exposes operator-facing call operations: placing
// outbound calls, ending active ones, and querying records. Status remains
// provider-authoritative; commands here only ask the provider to act, and
// the resulting webhooks drive the record through reconciliation.
package callcontrol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
	domainerrors "github.com/strataline/callflow-backend/internal/domain/errors"
	"github.com/strataline/callflow-backend/internal/domain/event"
	"github.com/strataline/callflow-backend/internal/infrastructure/repository"
	"github.com/strataline/callflow-backend/internal/service/reconciliation"
)

// ProviderClient is the outbound surface of the voice provider.
type ProviderClient interface {
	Name() string
	FromNumber() string
	Dial(ctx context.Context, from, to string) (string, error)
	Terminate(ctx context.Context, correlationID string) error
}

// CallRepository is the record store as seen by call control.
type CallRepository interface {
	Create(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (*call.Call, error)
	List(ctx context.Context) ([]*call.Call, error)
}

// Service implements call control.
type Service struct {
	provider   ProviderClient
	calls      CallRepository
	leads      reconciliation.LeadCorrelator
	reconciler reconciliation.Service
	notifier   reconciliation.Notifier
	logger     *slog.Logger
}

// NewService creates the call control service.
func NewService(
	provider ProviderClient,
	calls CallRepository,
	leads reconciliation.LeadCorrelator,
	reconciler reconciliation.Service,
	notifier reconciliation.Notifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		provider:   provider,
		calls:      calls,
		leads:      leads,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
	}
}

// Dial places an outbound call through the provider and records it in the
// initiated state. Ringing and later transitions arrive via webhooks.
func (s *Service) Dial(ctx context.Context, from, to string) (*call.Call, error) {
	if to == "" {
		return nil, domainerrors.NewValidationError("MISSING_DESTINATION", "destination number is required")
	}
	if from == "" {
		from = s.provider.FromNumber()
	}
	if from == "" {
		return nil, domainerrors.NewValidationError("MISSING_ORIGIN", "no origin number configured or provided")
	}

	correlationID, err := s.provider.Dial(ctx, from, to)
	if err != nil {
		return nil, err
	}

	rec, err := call.NewOutgoingCall(s.provider.Name(), correlationID, from, to)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to build call record").WithCause(err)
	}

	if l, err := s.leads.FindByPhone(ctx, to); err == nil {
		id := l.ID
		rec.LeadID = &id
		if err := s.leads.TouchLastContact(ctx, l.ID, time.Now().UTC()); err != nil {
			s.logger.WarnContext(ctx, "lead last-contact update failed",
				"lead_id", l.ID, "error", err)
		}
	}

	if err := s.calls.Create(ctx, rec); err != nil {
		if repository.IsDuplicate(err) {
			// The provider handed back a correlation id we already track,
			// usually because this call's webhooks beat us to the store.
			return nil, domainerrors.NewBusinessError("CALL_ALREADY_EXISTS",
				"a record for this call already exists").WithCause(err)
		}
		// The provider call is already in flight; surface the write failure
		// and let the webhooks recreate state when the store recovers.
		return nil, domainerrors.NewStoreWriteError("failed to persist call record").WithCause(err)
	}

	s.logger.InfoContext(ctx, "outbound call placed",
		"call_id", rec.ID,
		"provider", rec.Provider,
		"correlation_id", rec.CorrelationID,
		"to", to,
	)
	s.notifier.CallCreated(ctx, rec.Clone())

	return rec, nil
}

// EndCall asks the provider to terminate an active call and moves the
// record to completed through the regular reconciliation path.
func (s *Service) EndCall(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	rec, err := s.calls.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.ErrCallNotFound
		}
		return nil, domainerrors.NewStoreWriteError("failed to load call record").WithCause(err)
	}
	if rec.Status.IsTerminal() {
		return nil, domainerrors.NewBusinessError("CALL_ALREADY_ENDED", "call is already in a terminal state")
	}

	// Best effort; the provider's own call.ended webhook remains the
	// authoritative confirmation.
	if err := s.provider.Terminate(ctx, rec.CorrelationID); err != nil {
		s.logger.WarnContext(ctx, "provider terminate request failed",
			"call_id", rec.ID,
			"correlation_id", rec.CorrelationID,
			"error", err,
		)
	}

	updated, _, err := s.reconciler.Reconcile(ctx, &event.StatusUpdate{
		Base: event.Base{
			Provider:      rec.Provider,
			CorrelationID: rec.CorrelationID,
			ReceivedAt:    time.Now().UTC(),
		},
		Status: call.StatusCompleted,
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddNote appends an operator annotation to a call record.
func (s *Service) AddNote(ctx context.Context, id uuid.UUID, note string) (*call.Call, error) {
	return s.reconciler.Annotate(ctx, id, note)
}

// GetCall returns one call record.
func (s *Service) GetCall(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	rec, err := s.calls.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.ErrCallNotFound
		}
		return nil, domainerrors.NewInternalError("failed to load call record").WithCause(err)
	}
	return rec, nil
}

// ListCalls returns all call records, newest first.
func (s *Service) ListCalls(ctx context.Context) ([]*call.Call, error) {
	recs, err := s.calls.List(ctx)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list call records").WithCause(err)
	}
	return recs, nil
}
