package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eeredondo/pqrsd/internal/models"
	"github.com/eeredondo/pqrsd/internal/workdays"
	"github.com/eeredondo/pqrsd/pkg/convert"
	appErrors "github.com/eeredondo/pqrsd/pkg/errors"
)

type requestRepository interface {
	Create(ctx context.Context, req *models.Request, event *models.AuditEvent) error
	Transition(ctx context.Context, id int64, apply func(*models.Request) (*models.AuditEvent, error)) (*models.Request, error)
	GetByID(ctx context.Context, id int64) (*models.Request, error)
	List(ctx context.Context) ([]models.Request, error)
	ListAssigned(ctx context.Context, userID int64, states []models.RequestState) ([]models.Request, error)
	Delete(ctx context.Context, id int64) error
}

type auditTrail interface {
	History(ctx context.Context, requestID int64) ([]models.AuditEvent, error)
}

type staffLookup interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type attachmentStore interface {
	Save(filename string, data []byte) (string, error)
	Delete(filename string) error
}

type lifecycleNotifier interface {
	Filed(req *models.Request)
	Assigned(req *models.Request, assignee *models.User)
	Responded(req *models.Request)
	ReviewApproved(req *models.Request)
	ReviewReturned(req *models.Request, comment string)
	Signed(req *models.Request)
	Completed(req *models.Request)
}

// FileUpload carries one uploaded attachment.
type FileUpload struct {
	Filename string
	Data     []byte
}

// SubmitInput is the citizen-facing filing payload.
type SubmitInput struct {
	Name         string `validate:"required"`
	Surname      string `validate:"required"`
	Email        string `validate:"required,email"`
	Phone        string `validate:"required"`
	Department   string `validate:"required"`
	Municipality string `validate:"required"`
	Address      string `validate:"required"`
	Message      string `validate:"required"`
	Attachment   FileUpload
}

// AssignInput routes a request to a handler.
type AssignInput struct {
	AssigneeID     int64  `validate:"required"`
	Classification string `validate:"required"`
	TermDays       int
}

// RespondInput submits the handler's draft response.
type RespondInput struct {
	Comment    string `validate:"required"`
	Attachment FileUpload
}

// ReviewInput records the reviewer's verdict.
type ReviewInput struct {
	Approved bool
	Comment  string
}

// RequestService implements the request lifecycle state machine. State changes
// and their audit events commit atomically through the repository; email and
// realtime side effects run after the commit and never fail the operation.
type RequestService struct {
	repo      requestRepository
	audit     auditTrail
	users     staffLookup
	storage   attachmentStore
	notifier  lifecycleNotifier
	workdays  *workdays.Calculator
	termDays  int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService constructs the service.
func NewRequestService(
	repo requestRepository,
	audit auditTrail,
	users staffLookup,
	storage attachmentStore,
	notifier lifecycleNotifier,
	calc *workdays.Calculator,
	termDays int,
	validate *validator.Validate,
	logger *zap.Logger,
) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if termDays <= 0 {
		termDays = 15
	}
	return &RequestService{
		repo:      repo,
		audit:     audit,
		users:     users,
		storage:   storage,
		notifier:  notifier,
		workdays:  calc,
		termDays:  termDays,
		validator: validate,
		logger:    logger,
	}
}

// Submit files a new request. The radicado is assigned atomically and the
// trail opens with a Filed event.
func (s *RequestService) Submit(ctx context.Context, input SubmitInput) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if len(input.Attachment.Data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment is required")
	}

	stored, err := s.storeUpload("original", input.Attachment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	req := &models.Request{
		Name:         input.Name,
		Surname:      input.Surname,
		Email:        input.Email,
		Phone:        input.Phone,
		Department:   input.Department,
		Municipality: input.Municipality,
		Address:      input.Address,
		Message:      input.Message,
		Attachment:   stored,
	}
	event := &models.AuditEvent{
		Kind:   models.AuditKindFiled,
		Sender: fmt.Sprintf("%s %s", input.Name, input.Surname),
	}

	if err := s.repo.Create(ctx, req, event); err != nil {
		s.removeStored(stored)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to file request")
	}

	s.notifier.Filed(req)
	return req, nil
}

// Assign routes the request to a handler, computes its business-day deadline
// and classifies it. Re-assignment of an already routed request is allowed.
func (s *RequestService) Assign(ctx context.Context, id int64, actor *models.JWTClaims, input AssignInput) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	assignee, err := s.users.FindByID(ctx, input.AssigneeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch assignee")
	}
	if !assignee.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee account is inactive")
	}
	if assignee.Role != models.RoleHandler {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee must hold the responsable role")
	}

	termDays := input.TermDays
	if termDays <= 0 {
		termDays = s.termDays
	}
	deadline := s.workdays.Deadline(time.Now().UTC(), termDays)

	req, err := s.repo.Transition(ctx, id, func(req *models.Request) (*models.AuditEvent, error) {
		req.State = models.StateAssigned
		req.AssignedTo = &assignee.ID
		req.Classification = &input.Classification
		req.DeadlineDate = &deadline
		return &models.AuditEvent{
			Kind:      models.AuditKindAssignment,
			Message:   &input.Classification,
			Sender:    actor.FullName,
			Recipient: &assignee.FullName,
		}, nil
	})
	if err != nil {
		return nil, transitionError(err)
	}

	s.notifier.Assigned(req, assignee)
	return req, nil
}

// Respond records the handler's draft response and moves the request into
// review. The attachment is optional; a re-submission after a returned review
// may keep the previous document. Word documents are converted to PDF on a
// best effort basis; a failed conversion is logged but never blocks the
// response.
func (s *RequestService) Respond(ctx context.Context, id int64, actor *models.JWTClaims, input RespondInput) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload")
	}

	var stored string
	var pdfRef *string
	if len(input.Attachment.Data) > 0 {
		var err error
		stored, err = s.storeUpload("responses", input.Attachment)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store response attachment")
		}

		if convert.IsWordDocument(input.Attachment.Filename) {
			if pdf, convErr := convert.DocxToPDF(input.Attachment.Data); convErr != nil {
				s.logger.Warn("response document conversion failed",
					zap.Int64("request_id", id), zap.Error(convErr))
			} else {
				name := strings.TrimSuffix(filepath.Base(stored), filepath.Ext(stored)) + ".pdf"
				if ref, saveErr := s.storage.Save(filepath.Join("responses", name), pdf); saveErr != nil {
					s.logger.Warn("failed to store converted response", zap.Int64("request_id", id), zap.Error(saveErr))
				} else {
					pdfRef = &ref
				}
			}
		}
	}

	req, err := s.repo.Transition(ctx, id, func(req *models.Request) (*models.AuditEvent, error) {
		req.State = models.StateInReview
		req.ResponseComment = &input.Comment
		if stored != "" {
			req.ResponseAttachment = &stored
			req.ResponsePDF = pdfRef
		}
		return &models.AuditEvent{
			Kind:    models.AuditKindResponseSent,
			Message: &input.Comment,
			Sender:  actor.FullName,
		}, nil
	})
	if err != nil {
		if stored != "" {
			s.removeStored(stored)
		}
		if pdfRef != nil {
			s.removeStored(*pdfRef)
		}
		return nil, transitionError(err)
	}

	s.notifier.Responded(req)
	return req, nil
}

// Review approves the draft toward signature or returns it to the handler.
func (s *RequestService) Review(ctx context.Context, id int64, actor *models.JWTClaims, input ReviewInput) (*models.Request, error) {
	if !input.Approved && strings.TrimSpace(input.Comment) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a returned review requires a comment")
	}

	req, err := s.repo.Transition(ctx, id, func(req *models.Request) (*models.AuditEvent, error) {
		event := &models.AuditEvent{Sender: actor.FullName}
		if input.Approved {
			req.State = models.StateReviewed
			event.Kind = models.AuditKindReviewApproved
			comment := strings.TrimSpace(input.Comment)
			if comment == "" {
				comment = "Approved"
			}
			event.Message = &comment
		} else {
			req.State = models.StateReturned
			comment := input.Comment
			event.Kind = models.AuditKindReviewReturned
			event.Message = &comment
		}
		return event, nil
	})
	if err != nil {
		return nil, transitionError(err)
	}

	if input.Approved {
		s.notifier.ReviewApproved(req)
	} else {
		s.notifier.ReviewReturned(req, input.Comment)
	}
	return req, nil
}

// Sign marks the reviewed response as signed. Only a reviewed request can be
// signed.
func (s *RequestService) Sign(ctx context.Context, id int64, actor *models.JWTClaims) (*models.Request, error) {
	req, err := s.repo.Transition(ctx, id, func(req *models.Request) (*models.AuditEvent, error) {
		if req.State != models.StateReviewed {
			return nil, appErrors.ErrInvalidTransition
		}
		req.State = models.StateSigned
		req.Signed = true
		return &models.AuditEvent{
			Kind:   models.AuditKindSignature,
			Sender: actor.FullName,
		}, nil
	})
	if err != nil {
		return nil, transitionError(err)
	}

	s.notifier.Signed(req)
	return req, nil
}

// Finalize closes a signed request with the delivery evidence and sends the
// final response to the citizen.
func (s *RequestService) Finalize(ctx context.Context, id int64, actor *models.JWTClaims, evidence FileUpload) (*models.Request, error) {
	if len(evidence.Data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "evidence attachment is required")
	}

	stored, err := s.storeUpload("evidence", evidence)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store evidence")
	}

	req, err := s.repo.Transition(ctx, id, func(req *models.Request) (*models.AuditEvent, error) {
		if req.State != models.StateSigned {
			return nil, appErrors.ErrInvalidTransition
		}
		req.State = models.StateCompleted
		req.EvidenceAttachment = &stored
		return &models.AuditEvent{
			Kind:   models.AuditKindFinalization,
			Sender: actor.FullName,
		}, nil
	})
	if err != nil {
		s.removeStored(stored)
		return nil, transitionError(err)
	}

	s.notifier.Completed(req)
	return req, nil
}

// Get returns one request.
func (s *RequestService) Get(ctx context.Context, id int64) (*models.Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch request")
	}
	return req, nil
}

// List returns all requests, newest first.
func (s *RequestService) List(ctx context.Context) ([]models.Request, error) {
	requests, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, nil
}

// ListAssigned returns the caller's open workload: requests waiting for a
// response or returned from review.
func (s *RequestService) ListAssigned(ctx context.Context, userID int64) ([]models.Request, error) {
	states := []models.RequestState{models.StateAssigned, models.StateInReview, models.StateReturned}
	requests, err := s.repo.ListAssigned(ctx, userID, states)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assigned requests")
	}
	return requests, nil
}

// History returns the full audit trail of a request in chronological order.
func (s *RequestService) History(ctx context.Context, id int64) ([]models.AuditEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.audit.History(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	return events, nil
}

// Delete removes a request, its audit trail and its stored attachments.
func (s *RequestService) Delete(ctx context.Context, id int64) error {
	req, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete request")
	}

	for _, kind := range []models.AttachmentKind{
		models.AttachmentOriginal, models.AttachmentResponse,
		models.AttachmentResponsePDF, models.AttachmentEvidence,
	} {
		if ref := req.AttachmentRef(kind); ref != nil {
			s.removeStored(*ref)
		}
	}
	return nil
}

func (s *RequestService) storeUpload(dir string, upload FileUpload) (string, error) {
	ext := strings.ToLower(filepath.Ext(upload.Filename))
	name := uuid.NewString() + ext
	return s.storage.Save(filepath.Join(dir, name), upload.Data)
}

func (s *RequestService) removeStored(ref string) {
	if err := s.storage.Delete(ref); err != nil {
		s.logger.Warn("failed to remove stored attachment", zap.String("ref", ref), zap.Error(err))
	}
}

func transitionError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
}
