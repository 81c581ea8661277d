// Package notify delivers lifecycle notifications. Emails go through a
// background queue with retries; realtime events are fired directly since the
// hub already swallows failures. Nothing here may fail a request operation.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eeredondo/pqrsd/internal/models"
	"github.com/eeredondo/pqrsd/pkg/jobs"
	"github.com/eeredondo/pqrsd/pkg/mail"
)

const (
	jobTypeEmail = "email"

	EventFiled     = "request.filed"
	EventAssigned  = "request.assigned"
	EventResponded = "request.responded"
	EventReviewed  = "request.reviewed"
	EventSigned    = "request.signed"
	EventCompleted = "request.completed"

	recipientLookupTimeout = 5 * time.Second
)

type mailSender interface {
	Send(ctx context.Context, msg mail.Message) error
}

type eventEmitter interface {
	Emit(event string, payload interface{})
}

type staffDirectory interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
}

type attachmentReader interface {
	ReadAll(filename string) ([]byte, error)
}

type emailJob struct {
	To         []string
	Subject    string
	Body       string
	Attachment string
}

// Notifier routes lifecycle notifications to staff and citizens.
type Notifier struct {
	queue   *jobs.Queue
	mailer  mailSender
	hub     eventEmitter
	users   staffDirectory
	storage attachmentReader
	logger  *zap.Logger
	enabled bool
}

// Config tunes the delivery queue.
type Config struct {
	Enabled    bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NewNotifier wires the notifier. A nil hub disables realtime events.
func NewNotifier(mailer mailSender, hub eventEmitter, users staffDirectory, storage attachmentReader, cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		mailer:  mailer,
		hub:     hub,
		users:   users,
		storage: storage,
		logger:  logger,
		enabled: cfg.Enabled,
	}
	n.queue = jobs.NewQueue("notifications", n.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return n
}

// Start launches the delivery workers.
func (n *Notifier) Start(ctx context.Context) { n.queue.Start(ctx) }

// Stop drains the workers.
func (n *Notifier) Stop() { n.queue.Stop() }

func (n *Notifier) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(emailJob)
	if !ok {
		n.logger.Error("unexpected notification payload", zap.String("type", job.Type))
		return nil
	}

	msg := mail.Message{To: payload.To, Subject: payload.Subject, Body: payload.Body}
	if payload.Attachment != "" {
		content, err := n.storage.ReadAll(payload.Attachment)
		if err != nil {
			return fmt.Errorf("load notification attachment: %w", err)
		}
		msg.Attachments = []mail.Attachment{{Filename: attachmentName(payload.Attachment), Content: content}}
	}
	return n.mailer.Send(ctx, msg)
}

func (n *Notifier) enqueueEmail(job emailJob) {
	if !n.enabled || len(job.To) == 0 {
		return
	}
	if err := n.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: jobTypeEmail, Payload: job}); err != nil {
		n.logger.Warn("failed to enqueue notification email", zap.Error(err))
	}
}

func (n *Notifier) emit(event string, req *models.Request) {
	if n.hub == nil {
		return
	}
	n.hub.Emit(event, map[string]interface{}{
		"request_id": req.ID,
		"radicado":   req.Radicado,
		"state":      req.State,
	})
}

// Filed confirms the filing to the citizen and alerts the assigner desk.
func (n *Notifier) Filed(req *models.Request) {
	n.enqueueEmail(emailJob{
		To:      []string{req.Email},
		Subject: fmt.Sprintf("Radicado %s recibido", req.Radicado),
		Body: fmt.Sprintf("Estimado/a %s %s,\n\nSu solicitud fue radicada con el número %s. "+
			"Con este número puede consultar el estado de su trámite.\n", req.Name, req.Surname, req.Radicado),
	})
	n.enqueueEmail(emailJob{
		To:      n.roleAddresses(models.RoleAssigner),
		Subject: fmt.Sprintf("Nueva solicitud %s pendiente de asignación", req.Radicado),
		Body:    fmt.Sprintf("La solicitud %s está pendiente de asignación.\n", req.Radicado),
	})
	n.emit(EventFiled, req)
}

// Assigned alerts the handler who received the request.
func (n *Notifier) Assigned(req *models.Request, assignee *models.User) {
	deadline := ""
	if req.DeadlineDate != nil {
		deadline = req.DeadlineDate.Format("2006-01-02")
	}
	n.enqueueEmail(emailJob{
		To:      []string{assignee.Email},
		Subject: fmt.Sprintf("Solicitud %s asignada", req.Radicado),
		Body: fmt.Sprintf("Se le ha asignado la solicitud %s. Fecha límite de respuesta: %s.\n",
			req.Radicado, deadline),
	})
	n.emit(EventAssigned, req)
}

// Responded alerts the review desk that a draft response is waiting.
func (n *Notifier) Responded(req *models.Request) {
	n.enqueueEmail(emailJob{
		To:      n.roleAddresses(models.RoleReviewer),
		Subject: fmt.Sprintf("Respuesta de %s lista para revisión", req.Radicado),
		Body:    fmt.Sprintf("La respuesta de la solicitud %s espera revisión.\n", req.Radicado),
	})
	n.emit(EventResponded, req)
}

// ReviewApproved alerts the signature desk.
func (n *Notifier) ReviewApproved(req *models.Request) {
	n.enqueueEmail(emailJob{
		To:      n.roleAddresses(models.RoleSigner),
		Subject: fmt.Sprintf("Respuesta de %s aprobada para firma", req.Radicado),
		Body:    fmt.Sprintf("La respuesta de la solicitud %s fue aprobada y espera firma.\n", req.Radicado),
	})
	n.emit(EventReviewed, req)
}

// ReviewReturned alerts the handler that the draft came back.
func (n *Notifier) ReviewReturned(req *models.Request, comment string) {
	n.enqueueEmail(emailJob{
		To:      n.assigneeAddress(req),
		Subject: fmt.Sprintf("Respuesta de %s devuelta", req.Radicado),
		Body:    fmt.Sprintf("La respuesta de la solicitud %s fue devuelta.\n\nObservaciones: %s\n", req.Radicado, comment),
	})
	n.emit(EventReviewed, req)
}

// Signed alerts the handler that the response is ready to send out.
func (n *Notifier) Signed(req *models.Request) {
	n.enqueueEmail(emailJob{
		To:      n.assigneeAddress(req),
		Subject: fmt.Sprintf("Respuesta de %s firmada", req.Radicado),
		Body:    fmt.Sprintf("La respuesta de la solicitud %s fue firmada y puede finalizarse.\n", req.Radicado),
	})
	n.emit(EventSigned, req)
}

// Completed sends the final response to the citizen with the signed document.
func (n *Notifier) Completed(req *models.Request) {
	attachment := ""
	if ref := req.AttachmentRef(models.AttachmentEvidence); ref != nil {
		attachment = *ref
	}
	n.enqueueEmail(emailJob{
		To:         []string{req.Email},
		Subject:    fmt.Sprintf("Respuesta a su solicitud %s", req.Radicado),
		Body:       fmt.Sprintf("Estimado/a %s %s,\n\nSu solicitud %s ha sido respondida. Adjuntamos el documento de respuesta.\n", req.Name, req.Surname, req.Radicado),
		Attachment: attachment,
	})
	n.emit(EventCompleted, req)
}

func (n *Notifier) roleAddresses(role models.UserRole) []string {
	ctx, cancel := context.WithTimeout(context.Background(), recipientLookupTimeout)
	defer cancel()
	users, err := n.users.ListByRole(ctx, role)
	if err != nil {
		n.logger.Warn("failed to resolve notification recipients", zap.String("role", string(role)), zap.Error(err))
		return nil
	}
	addresses := make([]string, 0, len(users))
	for _, u := range users {
		if u.Email != "" {
			addresses = append(addresses, u.Email)
		}
	}
	return addresses
}

func (n *Notifier) assigneeAddress(req *models.Request) []string {
	if req.AssignedTo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), recipientLookupTimeout)
	defer cancel()
	user, err := n.users.FindByID(ctx, *req.AssignedTo)
	if err != nil || user == nil {
		n.logger.Warn("failed to resolve assignee", zap.Int64("user_id", *req.AssignedTo), zap.Error(err))
		return nil
	}
	if user.Email == "" {
		return nil
	}
	return []string{user.Email}
}

func attachmentName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
