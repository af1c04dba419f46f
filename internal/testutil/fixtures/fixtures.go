// Package fixtures provides test data builders for domain objects.
package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
	"github.com/strataline/callflow-backend/internal/domain/lead"
)

// NewLead builds a lead with sensible defaults.
func NewLead(name, phone string) *lead.Lead {
	now := time.Now().UTC()
	return &lead.Lead{
		ID:          uuid.New(),
		Name:        name,
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CallBuilder assembles call records for tests.
type CallBuilder struct {
	c *call.Call
}

// NewCall starts a builder for an incoming ringing call.
func NewCall(provider, correlationID string) *CallBuilder {
	now := time.Now().UTC()
	return &CallBuilder{c: &call.Call{
		ID:            uuid.New(),
		Provider:      provider,
		CorrelationID: correlationID,
		FromNumber:    "+15550000002",
		ToNumber:      "+15550000001",
		Status:        call.StatusRinging,
		Direction:     call.DirectionIncoming,
		StartTime:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
}

// WithStatus sets the lifecycle status.
func (b *CallBuilder) WithStatus(s call.Status) *CallBuilder {
	b.c.Status = s
	if s.IsTerminal() && b.c.EndTime == nil {
		t := time.Now().UTC()
		b.c.EndTime = &t
	}
	return b
}

// WithDirection sets the call direction.
func (b *CallBuilder) WithDirection(d call.Direction) *CallBuilder {
	b.c.Direction = d
	return b
}

// WithNumbers sets the origin and destination numbers.
func (b *CallBuilder) WithNumbers(from, to string) *CallBuilder {
	b.c.FromNumber = from
	b.c.ToNumber = to
	return b
}

// WithDuration sets the elapsed duration.
func (b *CallBuilder) WithDuration(seconds int) *CallBuilder {
	b.c.DurationSeconds = seconds
	return b
}

// WithLead binds a lead id.
func (b *CallBuilder) WithLead(id uuid.UUID) *CallBuilder {
	b.c.LeadID = &id
	return b
}

// Build returns the assembled call.
func (b *CallBuilder) Build() *call.Call {
	return b.c.Clone()
}
