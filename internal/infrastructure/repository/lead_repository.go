package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/lead"
)

// leadRepository implements LeadRepository using PostgreSQL
type leadRepository struct {
	db *sql.DB
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *sql.DB) LeadRepository {
	return &leadRepository{db: db}
}

// FindByPhone looks up a lead by phone number
func (r *leadRepository) FindByPhone(ctx context.Context, number string) (*lead.Lead, error) {
	query := `
		SELECT id, name, phone_number, last_contacted_at, created_at, updated_at
		FROM leads
		WHERE phone_number = $1
	`

	var l lead.Lead
	var lastContact sql.NullTime
	err := r.db.QueryRowContext(ctx, query, number).Scan(
		&l.ID, &l.Name, &l.PhoneNumber, &lastContact, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find lead by phone: %w", err)
	}

	if lastContact.Valid {
		t := lastContact.Time.UTC()
		l.LastContactedAt = &t
	}

	return &l, nil
}

// TouchLastContact stamps the lead's last-contact timestamp
func (r *leadRepository) TouchLastContact(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE leads SET last_contacted_at = $2, updated_at = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch lead last contact: %w", err)
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
