package models

import "time"

// RequestState enumerates the lifecycle states of a citizen request.
type RequestState string

const (
	StatePending   RequestState = "Pending"
	StateAssigned  RequestState = "Assigned"
	StateInReview  RequestState = "InReview"
	StateReviewed  RequestState = "Reviewed"
	StateReturned  RequestState = "Returned"
	StateSigned    RequestState = "Signed"
	StateCompleted RequestState = "Completed"
)

// Valid reports whether the state belongs to the enumerated set.
func (s RequestState) Valid() bool {
	switch s {
	case StatePending, StateAssigned, StateInReview, StateReviewed, StateReturned, StateSigned, StateCompleted:
		return true
	default:
		return false
	}
}

// AttachmentKind names the attachment slots a request can carry.
type AttachmentKind string

const (
	AttachmentOriginal    AttachmentKind = "original"
	AttachmentResponse    AttachmentKind = "response"
	AttachmentResponsePDF AttachmentKind = "response_pdf"
	AttachmentEvidence    AttachmentKind = "evidence"
)

// Request represents one citizen PQRSD request and its lifecycle fields.
// Submission data is immutable after creation; lifecycle fields change only
// through state-machine operations.
type Request struct {
	ID       int64  `db:"id" json:"id"`
	Radicado string `db:"radicado" json:"radicado"`

	Name         string `db:"name" json:"name"`
	Surname      string `db:"surname" json:"surname"`
	Email        string `db:"email" json:"email"`
	Phone        string `db:"phone" json:"phone"`
	Department   string `db:"department" json:"department"`
	Municipality string `db:"municipality" json:"municipality"`
	Address      string `db:"address" json:"address"`
	Message      string `db:"message" json:"message"`
	Attachment   string `db:"attachment" json:"attachment"`

	State              RequestState `db:"state" json:"state"`
	AssignedTo         *int64       `db:"assigned_to" json:"assigned_to,omitempty"`
	Classification     *string      `db:"classification" json:"classification,omitempty"`
	DeadlineDate       *time.Time   `db:"deadline_date" json:"deadline_date,omitempty"`
	ResponseComment    *string      `db:"response_comment" json:"response_comment,omitempty"`
	ResponseAttachment *string      `db:"response_attachment" json:"response_attachment,omitempty"`
	ResponsePDF        *string      `db:"response_pdf" json:"response_pdf,omitempty"`
	Signed             bool         `db:"signed" json:"signed"`
	EvidenceAttachment *string      `db:"evidence_attachment" json:"evidence_attachment,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`

	// AssigneeName is populated by list/detail queries joining the staff
	// directory; it is not a column of the requests table.
	AssigneeName *string `db:"assignee_name" json:"assignee_name,omitempty"`
}

// AttachmentRef resolves the storage reference for the given slot, or nil when
// that slot is empty.
func (r *Request) AttachmentRef(kind AttachmentKind) *string {
	switch kind {
	case AttachmentOriginal:
		if r.Attachment == "" {
			return nil
		}
		ref := r.Attachment
		return &ref
	case AttachmentResponse:
		return r.ResponseAttachment
	case AttachmentResponsePDF:
		return r.ResponsePDF
	case AttachmentEvidence:
		return r.EvidenceAttachment
	default:
		return nil
	}
}
