package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
)

// callRepository implements CallRepository using PostgreSQL
type callRepository struct {
	db *sql.DB
}

// NewCallRepository creates a new call repository
func NewCallRepository(db *sql.DB) CallRepository {
	return &callRepository{db: db}
}

const callColumns = `
	id, provider, correlation_id, from_number, to_number, status, direction,
	duration_seconds, recording_url, notes, lead_id, started_at, ended_at,
	created_at, updated_at
`

// Create inserts a new call record
func (r *callRepository) Create(ctx context.Context, c *call.Call) error {
	if c.Provider == "" || c.CorrelationID == "" {
		return errors.New("provider and correlation_id cannot be empty")
	}

	notesJSON, err := json.Marshal(c.Notes)
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	query := `
		INSERT INTO calls (` + callColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.Provider, c.CorrelationID, c.FromNumber, c.ToNumber,
		c.Status.String(), c.Direction.String(), c.DurationSeconds,
		c.RecordingURL, notesJSON, c.LeadID, c.StartTime, c.EndTime,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("call for %s/%s already exists: %w", c.Provider, c.CorrelationID, errDuplicate)
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by its internal id
func (r *callRepository) GetByID(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

// GetByCorrelationID retrieves a call by its external key. Correlation ids
// may be reused across providers, so both parts are required.
func (r *callRepository) GetByCorrelationID(ctx context.Context, provider, correlationID string) (*call.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE provider = $1 AND correlation_id = $2`
	return r.queryOne(ctx, query, provider, correlationID)
}

// Update persists a merged call record
func (r *callRepository) Update(ctx context.Context, c *call.Call) error {
	notesJSON, err := json.Marshal(c.Notes)
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	query := `
		UPDATE calls
		SET
			status = $2,
			duration_seconds = $3,
			recording_url = $4,
			notes = $5,
			ended_at = $6,
			updated_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		c.ID, c.Status.String(), c.DurationSeconds, c.RecordingURL,
		notesJSON, c.EndTime, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// List returns all call records, newest first
func (r *callRepository) List(ctx context.Context) ([]*call.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []*call.Call
	for rows.Next() {
		c, err := scanCall(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return calls, nil
}

func (r *callRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*call.Call, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	c, err := scanCall(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanCall(scan func(dest ...interface{}) error) (*call.Call, error) {
	var c call.Call
	var statusStr, directionStr string
	var notesJSON []byte
	var recordingURL sql.NullString
	var leadID sql.NullString
	var endTime sql.NullTime

	err := scan(
		&c.ID, &c.Provider, &c.CorrelationID, &c.FromNumber, &c.ToNumber,
		&statusStr, &directionStr, &c.DurationSeconds, &recordingURL,
		&notesJSON, &leadID, &c.StartTime, &endTime, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	status, err := call.ParseStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("invalid stored status: %w", err)
	}
	c.Status = status
	if directionStr == call.DirectionOutgoing.String() {
		c.Direction = call.DirectionOutgoing
	}

	if recordingURL.Valid {
		c.RecordingURL = &recordingURL.String
	}
	if leadID.Valid {
		id, err := uuid.Parse(leadID.String)
		if err == nil {
			c.LeadID = &id
		}
	}
	if endTime.Valid {
		t := endTime.Time.UTC()
		c.EndTime = &t
	}
	if len(notesJSON) > 0 {
		if err := json.Unmarshal(notesJSON, &c.Notes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
		}
	}
	c.StartTime = c.StartTime.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	return &c, nil
}
