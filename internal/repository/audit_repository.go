package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/eeredondo/pqrsd/internal/models"
)

// insertAuditEvent appends one event. It runs against whatever execution
// context the caller holds so transitions can include it in their transaction.
func insertAuditEvent(ctx context.Context, ext sqlx.ExtContext, event *models.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_events (request_id, kind, message, sender, recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	row := ext.QueryRowxContext(ctx, query,
		event.RequestID, event.Kind, event.Message, event.Sender, event.Recipient, event.CreatedAt)
	if err := row.Scan(&event.ID); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// AuditRepository reads and appends audit trail entries. The trail is
// append-only: there is no update or single-event delete.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append records a standalone event outside of a lifecycle transition.
func (r *AuditRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	return insertAuditEvent(ctx, r.db, event)
}

// History returns the full trail for a request ascending by timestamp. The id
// tie-break keeps the order stable for events created in the same instant.
func (r *AuditRepository) History(ctx context.Context, requestID int64) ([]models.AuditEvent, error) {
	const query = `SELECT id, request_id, kind, message, sender, recipient, created_at
		FROM audit_events
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC`
	var events []models.AuditEvent
	if err := r.db.SelectContext(ctx, &events, query, requestID); err != nil {
		return nil, fmt.Errorf("load audit history: %w", err)
	}
	return events, nil
}
