package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/eeredondo/pqrsd/internal/models"
)

const requestColumns = `id, radicado, name, surname, email, phone, department, municipality,
       address, message, attachment, state, assigned_to, classification, deadline_date,
       response_comment, response_attachment, response_pdf, signed, evidence_attachment, created_at`

// RequestRepository persists citizen requests and their lifecycle changes.
// Every state transition commits the request mutation and its audit event in
// one transaction; a transition is never observable without its event.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// nextRadicado allocates the next per-year sequence number atomically. The
// counter row upsert serialises concurrent submissions inside the database, so
// two requests filed in the same instant can never share a code.
func nextRadicado(ctx context.Context, tx *sqlx.Tx, year int) (string, error) {
	const query = `INSERT INTO radicado_counters (year, seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET seq = radicado_counters.seq + 1
		RETURNING seq`
	var seq int64
	if err := tx.GetContext(ctx, &seq, query, year); err != nil {
		return "", fmt.Errorf("allocate radicado sequence: %w", err)
	}
	return fmt.Sprintf("RAD-%d-%05d", year, seq), nil
}

// Create files a new request together with its filing audit event. The
// radicado is assigned inside the same transaction.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request, event *models.AuditEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create request: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	radicado, err := nextRadicado(ctx, tx, now.Year())
	if err != nil {
		return err
	}
	req.Radicado = radicado
	req.State = models.StatePending
	req.CreatedAt = now

	const insertQuery = `INSERT INTO requests
		(radicado, name, surname, email, phone, department, municipality, address, message, attachment, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	if err := tx.GetContext(ctx, &req.ID, insertQuery,
		req.Radicado, req.Name, req.Surname, req.Email, req.Phone,
		req.Department, req.Municipality, req.Address, req.Message,
		req.Attachment, req.State, req.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	event.RequestID = req.ID
	if err := insertAuditEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create request: %w", err)
	}
	return nil
}

// Transition loads the request under a row lock, applies the mutation and
// appends the audit event the apply callback returns. The callback validates
// the current state and returns a domain error to abort without changes. Only
// lifecycle columns are written; submission data stays immutable.
func (r *RequestRepository) Transition(ctx context.Context, id int64, apply func(*models.Request) (*models.AuditEvent, error)) (*models.Request, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	lockQuery := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR UPDATE`
	var req models.Request
	if err := tx.GetContext(ctx, &req, lockQuery, id); err != nil {
		return nil, err
	}

	event, err := apply(&req)
	if err != nil {
		return nil, err
	}

	const updateQuery = `UPDATE requests SET
		state = $2, assigned_to = $3, classification = $4, deadline_date = $5,
		response_comment = $6, response_attachment = $7, response_pdf = $8,
		signed = $9, evidence_attachment = $10
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery,
		req.ID, req.State, req.AssignedTo, req.Classification, req.DeadlineDate,
		req.ResponseComment, req.ResponseAttachment, req.ResponsePDF,
		req.Signed, req.EvidenceAttachment,
	); err != nil {
		return nil, fmt.Errorf("update request state: %w", err)
	}

	event.RequestID = req.ID
	if err := insertAuditEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return &req, nil
}

// GetByID returns one request with its assignee name resolved.
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*models.Request, error) {
	const query = `SELECT r.*, u.full_name AS assignee_name
		FROM requests r
		LEFT JOIN users u ON u.id = r.assigned_to
		WHERE r.id = $1`
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns every request, newest first.
func (r *RequestRepository) List(ctx context.Context) ([]models.Request, error) {
	const query = `SELECT r.*, u.full_name AS assignee_name
		FROM requests r
		LEFT JOIN users u ON u.id = r.assigned_to
		ORDER BY r.created_at DESC`
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// ListAssigned returns the requests assigned to a staff member restricted to
// the given states.
func (r *RequestRepository) ListAssigned(ctx context.Context, userID int64, states []models.RequestState) ([]models.Request, error) {
	values := make([]string, len(states))
	for i, s := range states {
		values[i] = string(s)
	}
	const query = `SELECT r.*, u.full_name AS assignee_name
		FROM requests r
		LEFT JOIN users u ON u.id = r.assigned_to
		WHERE r.assigned_to = $1 AND r.state = ANY($2)
		ORDER BY r.created_at DESC`
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, userID, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("list assigned requests: %w", err)
	}
	return requests, nil
}

// Delete removes a request and cascade-removes its audit trail.
func (r *RequestRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete request: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_events WHERE request_id = $1`, id); err != nil {
		return fmt.Errorf("delete audit trail: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete request: %w", err)
	}
	return nil
}
