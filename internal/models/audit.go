package models

import "time"

// Audit event kinds. The string literals are part of the external contract and
// must match exactly what downstream consumers expect.
const (
	AuditKindFiled          = "Filed"
	AuditKindAssignment     = "Assignment"
	AuditKindResponseSent   = "Response sent"
	AuditKindReviewApproved = "Review approved"
	AuditKindReviewReturned = "Review returned"
	AuditKindSignature      = "Signature"
	AuditKindFinalization   = "Finalization"
)

// AuditEvent is one append-only entry of a request's audit trail. Events are
// never updated or deleted; they are removed only when their owning request is
// administratively deleted.
type AuditEvent struct {
	ID        int64     `db:"id" json:"id"`
	RequestID int64     `db:"request_id" json:"request_id"`
	Kind      string    `db:"kind" json:"kind"`
	Message   *string   `db:"message" json:"message,omitempty"`
	Sender    string    `db:"sender" json:"sender"`
	Recipient *string   `db:"recipient" json:"recipient,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
