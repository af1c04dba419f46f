package call

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Call is the authoritative record of one voice interaction. It is created
// either by an outbound dial request or by an inbound webhook, and mutated
// exclusively through the reconciliation engine.
type Call struct {
	ID            uuid.UUID `json:"id"`
	Provider      string    `json:"provider"`
	CorrelationID string    `json:"correlation_id"`
	FromNumber    string    `json:"from_number,omitempty"`
	ToNumber      string    `json:"to_number,omitempty"`
	Status        Status    `json:"status"`
	Direction     Direction `json:"direction"`

	// DurationSeconds is monotonic non-decreasing while the call is active.
	DurationSeconds int `json:"duration_seconds"`

	// RecordingURL is set once the provider makes a recording available.
	RecordingURL *string  `json:"recording_url,omitempty"`
	Notes        []string `json:"notes,omitempty"`

	// LeadID is bound at creation time and never reassigned.
	LeadID *uuid.UUID `json:"lead_id,omitempty"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status int

const (
	StatusInitiated Status = iota
	StatusRinging
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusNoAnswer
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusRinging:
		return "ringing"
	case StatusInProgress:
		return "in-progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusNoAnswer:
		return "no-answer"
	default:
		return "unknown"
	}
}

// MarshalText makes Status render as its string form in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus maps the provider's wire form to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "initiated":
		return StatusInitiated, nil
	case "ringing":
		return StatusRinging, nil
	case "in-progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "no-answer":
		return StatusNoAnswer, nil
	default:
		return StatusInitiated, fmt.Errorf("unknown call status %q", s)
	}
}

// IsTerminal reports whether no further status transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the lifecycle machine:
// initiated -> ringing -> in-progress -> completed, with failed and
// no-answer reachable from ringing/in-progress. Terminal states admit
// no outgoing transitions.
func (s Status) CanTransitionTo(to Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusInitiated:
		return to == StatusRinging || to == StatusInProgress || to == StatusFailed || to == StatusNoAnswer
	case StatusRinging:
		return to == StatusInProgress || to == StatusCompleted || to == StatusFailed || to == StatusNoAnswer
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusNoAnswer
	default:
		return false
	}
}

type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "incoming":
		*d = DirectionIncoming
	case "outgoing":
		*d = DirectionOutgoing
	default:
		return fmt.Errorf("unknown call direction %q", text)
	}
	return nil
}

// NewIncomingCall creates a record for a call announced by an inbound
// webhook. The correlation id is bound here and is immutable thereafter.
func NewIncomingCall(provider, correlationID, from, to string) (*Call, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id cannot be empty")
	}

	now := time.Now().UTC()
	return &Call{
		ID:            uuid.New(),
		Provider:      provider,
		CorrelationID: correlationID,
		FromNumber:    from,
		ToNumber:      to,
		Status:        StatusRinging,
		Direction:     DirectionIncoming,
		StartTime:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NewOutgoingCall creates a record for an outbound dial request.
func NewOutgoingCall(provider, correlationID, from, to string) (*Call, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id cannot be empty")
	}
	if to == "" {
		return nil, fmt.Errorf("destination number cannot be empty")
	}

	now := time.Now().UTC()
	return &Call{
		ID:            uuid.New(),
		Provider:      provider,
		CorrelationID: correlationID,
		FromNumber:    from,
		ToNumber:      to,
		Status:        StatusInitiated,
		Direction:     DirectionOutgoing,
		StartTime:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ApplyStatus attempts a status transition and reports whether the field
// changed. Illegal transitions (including anything out of a terminal state)
// are accepted as no-ops so at-least-once redelivery never errors.
func (c *Call) ApplyStatus(to Status) bool {
	if c.Status == to || !c.Status.CanTransitionTo(to) {
		return false
	}
	c.Status = to
	now := time.Now().UTC()
	if to.IsTerminal() && c.EndTime == nil {
		c.EndTime = &now
	}
	c.UpdatedAt = now
	return true
}

// ApplyDuration updates the elapsed duration, keeping it monotonic
// non-decreasing. Negative or smaller values are ignored.
func (c *Call) ApplyDuration(seconds int) bool {
	if seconds < 0 || seconds <= c.DurationSeconds {
		return false
	}
	c.DurationSeconds = seconds
	c.UpdatedAt = time.Now().UTC()
	return true
}

// ApplyRecordingURL sets the recording reference once available. A recording
// already on the record is never overwritten.
func (c *Call) ApplyRecordingURL(url string) bool {
	if url == "" || c.RecordingURL != nil {
		return false
	}
	c.RecordingURL = &url
	c.UpdatedAt = time.Now().UTC()
	return true
}

// AppendNote adds an annotation to the append-only note log.
func (c *Call) AppendNote(note string) bool {
	if note == "" {
		return false
	}
	c.Notes = append(c.Notes, note)
	c.UpdatedAt = time.Now().UTC()
	return true
}

// Clone returns a deep copy so callers can hand records across goroutine
// boundaries without sharing mutable state.
func (c *Call) Clone() *Call {
	dup := *c
	if c.RecordingURL != nil {
		v := *c.RecordingURL
		dup.RecordingURL = &v
	}
	if c.LeadID != nil {
		v := *c.LeadID
		dup.LeadID = &v
	}
	if c.EndTime != nil {
		v := *c.EndTime
		dup.EndTime = &v
	}
	if c.Notes != nil {
		dup.Notes = append([]string(nil), c.Notes...)
	}
	return &dup
}
