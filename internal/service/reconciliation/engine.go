package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
	domainerrors "github.com/strataline/callflow-backend/internal/domain/errors"
	"github.com/strataline/callflow-backend/internal/domain/event"
	"github.com/strataline/callflow-backend/internal/infrastructure/repository"
)

// Config tunes engine behavior. The zero value is usable.
type Config struct {
	// RequireExistingRecords makes update-only events against unknown
	// correlation ids fail with not-found instead of creating a skeleton
	// record.
	RequireExistingRecords bool
	// Locker optionally serializes mutators across instances. The engine
	// always holds its in-process per-record lock regardless.
	Locker RecordLocker
	// LockTTL bounds how long a distributed lock may outlive its holder.
	LockTTL time.Duration
}

// engine implements Service. All reads-then-writes of one record execute
// under that record's lock, so two concurrent events for the same
// correlation id cannot interleave their read and write phases.
type engine struct {
	calls    CallRepository
	leads    LeadCorrelator
	notifier Notifier
	logger   *slog.Logger
	locks    *keyLock
	cfg      Config
}

// NewEngine creates the reconciliation engine.
func NewEngine(calls CallRepository, leads LeadCorrelator, notifier Notifier, logger *slog.Logger, cfg Config) Service {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &engine{
		calls:    calls,
		leads:    leads,
		notifier: notifier,
		logger:   logger,
		locks:    newKeyLock(),
		cfg:      cfg,
	}
}

func (e *engine) Reconcile(ctx context.Context, evt event.Event) (*call.Call, Outcome, error) {
	provider, correlationID := evt.Key()
	key := provider + "/" + correlationID

	unlock := e.locks.lock(key)
	defer unlock()

	if e.cfg.Locker != nil {
		release, err := e.cfg.Locker.Acquire(ctx, key, e.cfg.LockTTL)
		if err != nil {
			return nil, OutcomeNoOp, domainerrors.NewInternalError("failed to acquire record lock").WithCause(err)
		}
		defer release()
	}

	rec, err := e.calls.GetByCorrelationID(ctx, provider, correlationID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		rec = nil
	default:
		return nil, OutcomeNoOp, domainerrors.NewStoreWriteError("failed to load call record").WithCause(err)
	}

	created := false
	if rec == nil {
		if !evt.CreatesRecord() && e.cfg.RequireExistingRecords {
			return nil, OutcomeNoOp, domainerrors.ErrCallNotFound
		}
		rec, err = e.createRecord(ctx, evt)
		if err != nil {
			return nil, OutcomeNoOp, err
		}
		created = true
	}

	statusChanged, fieldsChanged := e.applyEvent(rec, evt)

	outcome := OutcomeNoOp
	switch {
	case created:
		outcome = OutcomeCreated
	case statusChanged || fieldsChanged:
		outcome = OutcomeUpdated
	}

	if outcome != OutcomeNoOp {
		if err := e.persist(ctx, rec, created); err != nil {
			return nil, OutcomeNoOp, err
		}
		e.notify(ctx, rec, created, statusChanged)
	} else {
		e.logger.DebugContext(ctx, "duplicate or stale event acknowledged",
			"event_type", evt.EventType(),
			"provider", provider,
			"correlation_id", correlationID,
			"status", rec.Status.String(),
		)
	}

	return rec.Clone(), outcome, nil
}

// Annotate appends a note to the record's append-only log under the same
// per-record lock that event reconciliation holds.
func (e *engine) Annotate(ctx context.Context, id uuid.UUID, note string) (*call.Call, error) {
	if note == "" {
		return nil, domainerrors.NewValidationError("EMPTY_NOTE", "note cannot be empty")
	}

	rec, err := e.calls.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.ErrCallNotFound
		}
		return nil, domainerrors.NewStoreWriteError("failed to load call record").WithCause(err)
	}

	key := rec.Provider + "/" + rec.CorrelationID
	unlock := e.locks.lock(key)
	defer unlock()

	if e.cfg.Locker != nil {
		release, err := e.cfg.Locker.Acquire(ctx, key, e.cfg.LockTTL)
		if err != nil {
			return nil, domainerrors.NewInternalError("failed to acquire record lock").WithCause(err)
		}
		defer release()
	}

	// Re-read under the lock; the first read raced unlocked.
	rec, err = e.calls.GetByID(ctx, id)
	if err != nil {
		return nil, domainerrors.NewStoreWriteError("failed to load call record").WithCause(err)
	}

	rec.AppendNote(note)
	if err := e.calls.Update(ctx, rec); err != nil {
		return nil, domainerrors.NewStoreWriteError("failed to persist call record").WithCause(err)
	}
	e.notifier.CallUpdated(ctx, rec.Clone())

	return rec.Clone(), nil
}

// createRecord builds a fresh record for an event, resolving the lead by
// origin phone number first when one is carried.
func (e *engine) createRecord(ctx context.Context, evt event.Event) (*call.Call, error) {
	provider, correlationID := evt.Key()

	var rec *call.Call
	var fromNumber string
	var err error

	switch v := evt.(type) {
	case *event.Incoming:
		fromNumber = v.FromNumber
		rec, err = call.NewIncomingCall(provider, correlationID, v.FromNumber, v.ToNumber)
	case *event.CallStarted:
		fromNumber = v.FromNumber
		if v.Direction == call.DirectionOutgoing {
			rec, err = call.NewOutgoingCall(provider, correlationID, v.FromNumber, v.ToNumber)
		} else {
			rec, err = call.NewIncomingCall(provider, correlationID, v.FromNumber, v.ToNumber)
		}
	default:
		// Permissive mode: bind a skeleton record so late-arriving update
		// events are not dropped.
		rec, err = call.NewIncomingCall(provider, correlationID, "", "")
	}
	if err != nil {
		return nil, domainerrors.NewValidationError("INVALID_EVENT", "event cannot create a call record").WithCause(err)
	}

	if fromNumber != "" {
		e.attachLead(ctx, rec, fromNumber)
	}

	return rec, nil
}

// attachLead associates a lead looked up by phone number. Lookup failures
// degrade to an unassociated call, never a rejected event.
func (e *engine) attachLead(ctx context.Context, rec *call.Call, fromNumber string) {
	l, err := e.leads.FindByPhone(ctx, fromNumber)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			e.logger.WarnContext(ctx, "lead lookup failed",
				"phone", fromNumber, "error", err)
		}
		return
	}

	id := l.ID
	rec.LeadID = &id
	if err := e.leads.TouchLastContact(ctx, l.ID, time.Now().UTC()); err != nil {
		e.logger.WarnContext(ctx, "lead last-contact update failed",
			"lead_id", l.ID, "error", err)
	}
}

// applyEvent performs the field-level merge. Status and non-status fields
// reconcile independently so an analysis event arriving after a terminal
// status still lands its artifacts.
func (e *engine) applyEvent(rec *call.Call, evt event.Event) (statusChanged, fieldsChanged bool) {
	switch v := evt.(type) {
	case *event.Incoming:
		statusChanged = rec.ApplyStatus(call.StatusRinging)
	case *event.CallStarted:
		statusChanged = rec.ApplyStatus(call.StatusRinging)
	case *event.CallEnded:
		statusChanged = rec.ApplyStatus(call.StatusCompleted)
		fieldsChanged = rec.ApplyDuration(v.DurationSeconds)
	case *event.CallAnalyzed:
		recordingSet := rec.ApplyRecordingURL(v.RecordingURL)
		durationRaised := rec.ApplyDuration(v.DurationSeconds)
		noteAdded := false
		if v.Summary != "" && !slices.Contains(rec.Notes, v.Summary) {
			noteAdded = rec.AppendNote(v.Summary)
		}
		fieldsChanged = recordingSet || durationRaised || noteAdded
	case *event.StatusUpdate:
		statusChanged = rec.ApplyStatus(v.Status)
	}
	return statusChanged, fieldsChanged
}

// persist writes the record. A failed write surfaces as a store error with
// no partial state observable: created records simply do not exist, and
// updates were computed on a copy the store never saw.
func (e *engine) persist(ctx context.Context, rec *call.Call, created bool) error {
	if !created {
		if err := e.calls.Update(ctx, rec); err != nil {
			return domainerrors.NewStoreWriteError("failed to persist call record").WithCause(err)
		}
		return nil
	}

	err := e.calls.Create(ctx, rec)
	if err == nil {
		return nil
	}
	if repository.IsDuplicate(err) {
		// Another instance created this record between our read and write.
		// Surface a retryable error; the redelivery will find the stored
		// record and merge against it.
		e.logger.WarnContext(ctx, "lost creation race, deferring to redelivery",
			"provider", rec.Provider, "correlation_id", rec.CorrelationID)
		return domainerrors.NewStoreWriteError("call record was created concurrently").WithCause(err)
	}
	return domainerrors.NewStoreWriteError("failed to persist call record").WithCause(err)
}

// notify fires exactly one observer notification per applied mutation.
func (e *engine) notify(ctx context.Context, rec *call.Call, created, statusChanged bool) {
	c := rec.Clone()
	switch {
	case created:
		e.notifier.CallCreated(ctx, c)
	case statusChanged && rec.Status.IsTerminal():
		e.notifier.CallEnded(ctx, c)
	default:
		e.notifier.CallUpdated(ctx, c)
	}
}
