// Package ingestion is the trust boundary for provider webhooks: it
// authenticates, decodes, and routes raw event bodies into reconciliation.
package ingestion

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/strataline/callflow-backend/internal/domain/call"
	domainerrors "github.com/strataline/callflow-backend/internal/domain/errors"
	"github.com/strataline/callflow-backend/internal/domain/event"
	"github.com/strataline/callflow-backend/internal/service/reconciliation"
)

// Config carries dispatcher settings.
type Config struct {
	// Secret is the shared HMAC-SHA256 key for webhook signatures. Empty
	// disables verification; the dispatcher logs the degraded posture once.
	Secret string
	// DefaultProvider names the provider assumed for bodies that do not
	// carry one.
	DefaultProvider string
	// Metrics optionally counts boundary decisions.
	Metrics MetricsCollector
}

// Dispatcher validates raw webhook deliveries and hands decoded events to
// the reconciliation engine.
type Dispatcher struct {
	reconciler reconciliation.Service
	logger     *slog.Logger
	cfg        Config

	insecureOnce sync.Once
}

// NewDispatcher creates the webhook dispatcher.
func NewDispatcher(reconciler reconciliation.Service, logger *slog.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		reconciler: reconciler,
		logger:     logger,
		cfg:        cfg,
	}
}

// Ingest processes one raw webhook delivery. The signature is the value of
// the provider's signature header; verification happens against the exact
// bytes received, before any parsing.
func (d *Dispatcher) Ingest(ctx context.Context, body []byte, signature string) (*call.Call, reconciliation.Outcome, error) {
	if err := d.verifySignature(ctx, body, signature); err != nil {
		d.reject(RejectBadSignature)
		return nil, reconciliation.OutcomeNoOp, err
	}

	evt, err := event.Decode(body, d.cfg.DefaultProvider)
	if err != nil {
		return nil, reconciliation.OutcomeNoOp, d.mapDecodeError(ctx, err)
	}

	provider, correlationID := evt.Key()
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.EventReceived(provider)
	}

	rec, outcome, err := d.reconciler.Reconcile(ctx, evt)
	if err != nil {
		if domainerrors.IsType(err, domainerrors.ErrorTypeNotFound) {
			d.reject(RejectUnknownRecord)
			d.logger.WarnContext(ctx, "event references unknown call record",
				"event_type", evt.EventType(),
				"provider", provider,
				"correlation_id", correlationID,
			)
		} else {
			d.reject(RejectStoreFailure)
		}
		return nil, reconciliation.OutcomeNoOp, err
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.EventAccepted(string(evt.EventType()), outcome)
	}
	d.logger.InfoContext(ctx, "event reconciled",
		"event_type", evt.EventType(),
		"provider", provider,
		"correlation_id", correlationID,
		"outcome", outcome.String(),
		"status", rec.Status.String(),
	)

	return rec, outcome, nil
}

// verifySignature checks the HMAC-SHA256 hex digest of the body. A
// "sha256=" prefix on the header value is tolerated.
func (d *Dispatcher) verifySignature(ctx context.Context, body []byte, signature string) error {
	if d.cfg.Secret == "" {
		d.insecureOnce.Do(func() {
			d.logger.WarnContext(ctx, "webhook signature verification is disabled; set a webhook secret in production")
		})
		return nil
	}

	if signature == "" {
		return domainerrors.NewUnauthenticatedError("missing webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(d.cfg.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	got := strings.TrimPrefix(signature, "sha256=")
	if !hmac.Equal([]byte(got), []byte(expected)) {
		return domainerrors.NewUnauthenticatedError("webhook signature mismatch")
	}
	return nil
}

func (d *Dispatcher) mapDecodeError(ctx context.Context, err error) error {
	var unknownType *event.UnknownTypeError
	switch {
	case errors.As(err, &unknownType):
		d.reject(RejectUnsupportedType)
		d.logger.WarnContext(ctx, "unsupported event type rejected",
			"event_type", unknownType.Type)
		return domainerrors.NewUnsupportedEventTypeError(unknownType.Type)
	case errors.Is(err, event.ErrMissingType):
		d.reject(RejectMalformed)
		return domainerrors.NewMalformedEventError("event carries no type")
	default:
		d.reject(RejectMalformed)
		return domainerrors.NewMalformedEventError("request body is not a valid event").WithCause(err)
	}
}

func (d *Dispatcher) reject(reason string) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.EventRejected(reason)
	}
}
