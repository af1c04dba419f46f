package ingestion

import (
	"github.com/strataline/callflow-backend/internal/service/reconciliation"
)

// MetricsCollector counts dispatch boundary decisions.
type MetricsCollector interface {
	EventReceived(provider string)
	EventAccepted(eventType string, outcome reconciliation.Outcome)
	EventRejected(reason string)
}

// Rejection reasons reported to the metrics collector.
const (
	RejectBadSignature    = "bad_signature"
	RejectMalformed       = "malformed"
	RejectUnsupportedType = "unsupported_type"
	RejectUnknownRecord   = "unknown_record"
	RejectStoreFailure    = "store_failure"
)
