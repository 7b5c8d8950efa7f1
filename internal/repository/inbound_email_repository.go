package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/citizenspring/website/internal/database"
	"github.com/citizenspring/website/internal/models"
)

// InboundEmailRepository persists raw webhook payloads so failed
// deliveries can be retried by the reprocess runner.
type InboundEmailRepository struct {
	db *database.DB
}

func NewInboundEmailRepository(db *database.DB) *InboundEmailRepository {
	return &InboundEmailRepository{db: db}
}

// Create stores a received payload.
func (r *InboundEmailRepository) Create(ctx context.Context, email *models.StoredInboundEmail) error {
	now := time.Now()
	if email.Status == "" {
		email.Status = models.InboundStatusReceived
	}
	id, err := r.db.InsertReturningID(ctx, `
		INSERT INTO inbound_emails (message_id, payload, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		email.MessageID, email.Payload, email.Status, email.Attempts, email.LastError, now, now)
	if err != nil {
		return fmt.Errorf("failed to store inbound email: %w", err)
	}
	email.ID = id
	return nil
}

// ListByStatus returns stored payloads in a given status, oldest first.
func (r *InboundEmailRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.StoredInboundEmail, error) {
	query := `SELECT id, message_id, payload, status, attempts, last_error
		FROM inbound_emails WHERE status = $1 ORDER BY id`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbound emails: %w", err)
	}
	defer rows.Close()

	var emails []*models.StoredInboundEmail
	for rows.Next() {
		var e models.StoredInboundEmail
		var lastError *string
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Payload, &e.Status, &e.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan inbound email: %w", err)
		}
		if lastError != nil {
			e.LastError = *lastError
		}
		emails = append(emails, &e)
	}
	return emails, rows.Err()
}

// MarkDone marks a stored payload as successfully processed.
func (r *InboundEmailRepository) MarkDone(ctx context.Context, id int) error {
	query := r.db.Rebind(`UPDATE inbound_emails SET status = $1, updated_at = $2 WHERE id = $3`)
	if _, err := r.db.ExecContext(ctx, query, models.InboundStatusDone, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark inbound email done: %w", err)
	}
	return nil
}

// MarkFailed records a processing failure and bumps the attempt counter.
func (r *InboundEmailRepository) MarkFailed(ctx context.Context, id int, cause string) error {
	query := r.db.Rebind(`UPDATE inbound_emails
		SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = $3 WHERE id = $4`)
	if _, err := r.db.ExecContext(ctx, query, models.InboundStatusFailed, cause, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark inbound email failed: %w", err)
	}
	return nil
}
