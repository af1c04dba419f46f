package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/strataline/callflow-backend/internal/domain/call"
)

// Type tags an inbound provider event. The set of recognized types is a
// closed allow-list; anything else is rejected at the boundary.
type Type string

const (
	TypeCallStarted  Type = "call.started"
	TypeCallEnded    Type = "call.ended"
	TypeCallAnalyzed Type = "call.analyzed"
	TypeIncoming     Type = "incoming"
	TypeStatusUpdate Type = "status-update"
)

// Event is one decoded provider webhook. Each variant carries only the
// fields it is allowed to merge into a call record.
type Event interface {
	EventType() Type
	// Key returns the provider name and correlation id that tie the event
	// to a call record.
	Key() (provider, correlationID string)
	// CreatesRecord reports whether this event type may announce a new call.
	CreatesRecord() bool
}

// Base carries the fields common to every variant.
type Base struct {
	Provider      string    `json:"provider"`
	CorrelationID string    `json:"correlationId"`
	ReceivedAt    time.Time `json:"-"`
}

func (b Base) Key() (string, string) { return b.Provider, b.CorrelationID }

// CallStarted announces that a call began ringing.
type CallStarted struct {
	Base
	Direction  call.Direction `json:"direction"`
	FromNumber string         `json:"from"`
	ToNumber   string         `json:"to"`
}

func (CallStarted) EventType() Type     { return TypeCallStarted }
func (CallStarted) CreatesRecord() bool { return true }

// Incoming is the inbound-telephony variant of a new-call announcement.
type Incoming struct {
	Base
	FromNumber string `json:"from"`
	ToNumber   string `json:"to"`
}

func (Incoming) EventType() Type     { return TypeIncoming }
func (Incoming) CreatesRecord() bool { return true }

// CallEnded reports call completion with the final elapsed duration.
type CallEnded struct {
	Base
	DurationSeconds int `json:"durationSeconds"`
}

func (CallEnded) EventType() Type     { return TypeCallEnded }
func (CallEnded) CreatesRecord() bool { return false }

// CallAnalyzed delivers post-call artifacts from the conversational-AI
// provider. It may legitimately arrive after the call is terminal.
type CallAnalyzed struct {
	Base
	RecordingURL    string `json:"recordingUrl"`
	DurationSeconds int    `json:"durationSeconds"`
	Summary         string `json:"summary"`
}

func (CallAnalyzed) EventType() Type     { return TypeCallAnalyzed }
func (CallAnalyzed) CreatesRecord() bool { return false }

// StatusUpdate carries a bare lifecycle transition.
type StatusUpdate struct {
	Base
	Status call.Status `json:"status"`
}

func (StatusUpdate) EventType() Type     { return TypeStatusUpdate }
func (StatusUpdate) CreatesRecord() bool { return false }

// envelope is the minimal shape every webhook body must satisfy.
type envelope struct {
	Type          string `json:"type"`
	Provider      string `json:"provider"`
	CorrelationID string `json:"correlationId"`
}

// ErrMissingType marks a body that parsed but carries no event type.
var ErrMissingType = fmt.Errorf("event type is missing")

// UnknownTypeError marks an event type outside the allow-list.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unsupported event type %q", e.Type)
}

// Decode parses a raw webhook body into a typed event. defaultProvider is
// used when the body does not name its provider.
func Decode(raw []byte, defaultProvider string) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parsing event envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	now := time.Now().UTC()
	decode := func(v Event) (Event, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("parsing %s event: %w", env.Type, err)
		}
		return v, nil
	}

	var evt Event
	var err error
	switch Type(env.Type) {
	case TypeCallStarted:
		evt, err = decode(&CallStarted{})
	case TypeIncoming:
		evt, err = decode(&Incoming{})
	case TypeCallEnded:
		evt, err = decode(&CallEnded{})
	case TypeCallAnalyzed:
		evt, err = decode(&CallAnalyzed{})
	case TypeStatusUpdate:
		evt, err = decode(&StatusUpdate{})
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}
	if err != nil {
		return nil, err
	}

	setBase(evt, defaultProvider, now)

	if _, correlationID := evt.Key(); correlationID == "" {
		return nil, fmt.Errorf("event %s carries no correlation id", env.Type)
	}
	return evt, nil
}

func setBase(evt Event, defaultProvider string, receivedAt time.Time) {
	switch v := evt.(type) {
	case *CallStarted:
		fillBase(&v.Base, defaultProvider, receivedAt)
	case *Incoming:
		fillBase(&v.Base, defaultProvider, receivedAt)
	case *CallEnded:
		fillBase(&v.Base, defaultProvider, receivedAt)
	case *CallAnalyzed:
		fillBase(&v.Base, defaultProvider, receivedAt)
	case *StatusUpdate:
		fillBase(&v.Base, defaultProvider, receivedAt)
	}
}

func fillBase(b *Base, defaultProvider string, receivedAt time.Time) {
	if b.Provider == "" {
		b.Provider = defaultProvider
	}
	b.ReceivedAt = receivedAt
}
