package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eeredondo/pqrsd/internal/models"
	"github.com/eeredondo/pqrsd/internal/workdays"
	appErrors "github.com/eeredondo/pqrsd/pkg/errors"
)

type mockRequestRepo struct {
	requests map[int64]*models.Request
	events   []models.AuditEvent
	nextID   int64
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{requests: make(map[int64]*models.Request)}
}

func (m *mockRequestRepo) Create(ctx context.Context, req *models.Request, event *models.AuditEvent) error {
	m.nextID++
	req.ID = m.nextID
	req.State = models.StatePending
	req.Radicado = fmt.Sprintf("RAD-2025-%05d", m.nextID)
	copied := *req
	m.requests[req.ID] = &copied
	event.RequestID = req.ID
	m.events = append(m.events, *event)
	return nil
}

func (m *mockRequestRepo) Transition(ctx context.Context, id int64, apply func(*models.Request) (*models.AuditEvent, error)) (*models.Request, error) {
	stored, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	working := *stored
	event, err := apply(&working)
	if err != nil {
		return nil, err
	}
	*stored = working
	event.RequestID = id
	m.events = append(m.events, *event)
	result := working
	return &result, nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, id int64) (*models.Request, error) {
	stored, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (m *mockRequestRepo) List(ctx context.Context) ([]models.Request, error) {
	var out []models.Request
	for _, req := range m.requests {
		out = append(out, *req)
	}
	return out, nil
}

func (m *mockRequestRepo) ListAssigned(ctx context.Context, userID int64, states []models.RequestState) ([]models.Request, error) {
	var out []models.Request
	for _, req := range m.requests {
		if req.AssignedTo == nil || *req.AssignedTo != userID {
			continue
		}
		for _, s := range states {
			if req.State == s {
				out = append(out, *req)
				break
			}
		}
	}
	return out, nil
}

func (m *mockRequestRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.requests[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.requests, id)
	return nil
}

func (m *mockRequestRepo) kinds() []string {
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Kind
	}
	return out
}

type mockAuditTrail struct {
	repo *mockRequestRepo
}

func (m *mockAuditTrail) History(ctx context.Context, requestID int64) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for _, e := range m.repo.events {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockStaffLookup struct {
	users map[int64]*models.User
}

func (m *mockStaffLookup) FindByID(ctx context.Context, id int64) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type mockAttachmentStore struct {
	saved   map[string][]byte
	deleted []string
	saveErr error
}

func newMockAttachmentStore() *mockAttachmentStore {
	return &mockAttachmentStore{saved: make(map[string][]byte)}
}

func (m *mockAttachmentStore) Save(filename string, data []byte) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockAttachmentStore) Delete(filename string) error {
	m.deleted = append(m.deleted, filename)
	delete(m.saved, filename)
	return nil
}

type mockNotifier struct {
	calls []string
}

func (m *mockNotifier) Filed(req *models.Request)                         { m.calls = append(m.calls, "filed") }
func (m *mockNotifier) Assigned(req *models.Request, u *models.User)      { m.calls = append(m.calls, "assigned") }
func (m *mockNotifier) Responded(req *models.Request)                     { m.calls = append(m.calls, "responded") }
func (m *mockNotifier) ReviewApproved(req *models.Request)                { m.calls = append(m.calls, "approved") }
func (m *mockNotifier) ReviewReturned(req *models.Request, comment string) {
	m.calls = append(m.calls, "returned")
}
func (m *mockNotifier) Signed(req *models.Request)    { m.calls = append(m.calls, "signed") }
func (m *mockNotifier) Completed(req *models.Request) { m.calls = append(m.calls, "completed") }

type fixture struct {
	svc      *RequestService
	repo     *mockRequestRepo
	storage  *mockAttachmentStore
	notifier *mockNotifier
	staff    *mockStaffLookup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRequestRepo()
	storage := newMockAttachmentStore()
	notifier := &mockNotifier{}
	staff := &mockStaffLookup{users: map[int64]*models.User{
		10: {ID: 10, FullName: "Responsable Uno", Email: "resp@example.com", Role: models.RoleHandler, Active: true},
		20: {ID: 20, FullName: "Revisor Uno", Email: "rev@example.com", Role: models.RoleReviewer, Active: true},
	}}
	calc, err := workdays.NewCalculator(nil)
	require.NoError(t, err)
	svc := NewRequestService(repo, &mockAuditTrail{repo: repo}, staff, storage, notifier, calc, 15, validator.New(), zap.NewNop())
	return &fixture{svc: svc, repo: repo, storage: storage, notifier: notifier, staff: staff}
}

func validSubmitInput() SubmitInput {
	return SubmitInput{
		Name:         "Ana",
		Surname:      "Rojas",
		Email:        "ana@example.com",
		Phone:        "3001234567",
		Department:   "Cundinamarca",
		Municipality: "Bogota",
		Address:      "Calle 1 # 2-3",
		Message:      "Solicito información sobre mi predio",
		Attachment:   FileUpload{Filename: "peticion.pdf", Data: []byte("%PDF-1.4 fake")},
	}
}

func actor(name string) *models.JWTClaims {
	return &models.JWTClaims{UserID: 1, Username: "staff", FullName: name, Role: models.RoleAssigner}
}

func TestSubmitFilesRequestWithRadicado(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.Submit(context.Background(), validSubmitInput())
	require.NoError(t, err)

	assert.Equal(t, models.StatePending, req.State)
	assert.Regexp(t, `^RAD-\d{4}-\d{5}$`, req.Radicado)
	assert.NotEmpty(t, req.Attachment)
	assert.Contains(t, f.storage.saved, req.Attachment)
	assert.Equal(t, []string{models.AuditKindFiled}, f.repo.kinds())
	assert.Equal(t, []string{"filed"}, f.notifier.calls)
}

func TestSubmitRejectsMissingAttachment(t *testing.T) {
	f := newFixture(t)
	input := validSubmitInput()
	input.Attachment = FileUpload{}

	_, err := f.svc.Submit(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmitCleansUpStoredFileOnRepoFailure(t *testing.T) {
	f := newFixture(t)
	failing := &failingRepo{}
	calc, _ := workdays.NewCalculator(nil)
	svc := NewRequestService(failing, &mockAuditTrail{repo: f.repo}, f.staff, f.storage, f.notifier, calc, 15, validator.New(), zap.NewNop())

	_, err := svc.Submit(context.Background(), validSubmitInput())
	require.Error(t, err)
	assert.Len(t, f.storage.deleted, 1)
	assert.Empty(t, f.notifier.calls)
}

type failingRepo struct{ mockRequestRepo }

func (f *failingRepo) Create(ctx context.Context, req *models.Request, event *models.AuditEvent) error {
	return errors.New("db down")
}

func TestAssignComputesDeadlineAndRecordsEvent(t *testing.T) {
	f := newFixture(t)
	req, err := f.svc.Submit(context.Background(), validSubmitInput())
	require.NoError(t, err)

	updated, err := f.svc.Assign(context.Background(), req.ID, actor("Asignador"), AssignInput{
		AssigneeID:     10,
		Classification: "Petición",
		TermDays:       5,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateAssigned, updated.State)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, int64(10), *updated.AssignedTo)
	require.NotNil(t, updated.DeadlineDate)
	assert.True(t, updated.DeadlineDate.After(req.CreatedAt))
	require.NotNil(t, updated.Classification)
	assert.Equal(t, "Petición", *updated.Classification)

	last := f.repo.events[len(f.repo.events)-1]
	assert.Equal(t, models.AuditKindAssignment, last.Kind)
	assert.Equal(t, "Asignador", last.Sender)
	require.NotNil(t, last.Recipient)
	assert.Equal(t, "Responsable Uno", *last.Recipient)
}

func TestAssignUnknownAssignee(t *testing.T) {
	f := newFixture(t)
	req, _ := f.svc.Submit(context.Background(), validSubmitInput())

	_, err := f.svc.Assign(context.Background(), req.ID, actor("Asignador"), AssignInput{AssigneeID: 99, Classification: "Queja"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignRejectsNonHandlerRole(t *testing.T) {
	f := newFixture(t)
	req, _ := f.svc.Submit(context.Background(), validSubmitInput())

	_, err := f.svc.Assign(context.Background(), req.ID, actor("Asignador"), AssignInput{AssigneeID: 20, Classification: "Queja"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRespondMovesIntoReview(t *testing.T) {
	f := newFixture(t)
	req, _ := f.svc.Submit(context.Background(), validSubmitInput())
	_, err := f.svc.Assign(context.Background(), req.ID, actor("Asignador"), AssignInput{AssigneeID: 10, Classification: "Petición"})
	require.NoError(t, err)

	updated, err := f.svc.Respond(context.Background(), req.ID, actor("Responsable Uno"), RespondInput{
		Comment:    "Proyecto de respuesta adjunto",
		Attachment: FileUpload{Filename: "respuesta.pdf", Data: []byte("%PDF-1.4")},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateInReview, updated.State)
	require.NotNil(t, updated.ResponseAttachment)
	assert.Nil(t, updated.ResponsePDF)
	last := f.repo.events[len(f.repo.events)-1]
	assert.Equal(t, models.AuditKindResponseSent, last.Kind)
}

func TestRespondWithoutAttachmentKeepsPreviousDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.svc.Submit(ctx, validSubmitInput())
	_, err := f.svc.Assign(ctx, req.ID, actor("Asignador"), AssignInput{AssigneeID: 10, Classification: "Petición"})
	require.NoError(t, err)
	first, err := f.svc.Respond(ctx, req.ID, actor("Responsable Uno"), RespondInput{
		Comment:    "Primer borrador",
		Attachment: FileUpload{Filename: "borrador.pdf", Data: []byte("v1")},
	})
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, req.ID, actor("Revisor Uno"), ReviewInput{Approved: false, Comment: "Corregir fecha"})
	require.NoError(t, err)

	updated, err := f.svc.Respond(ctx, req.ID, actor("Responsable Uno"), RespondInput{Comment: "Fecha corregida"})
	require.NoError(t, err)

	assert.Equal(t, models.StateInReview, updated.State)
	require.NotNil(t, updated.ResponseAttachment)
	assert.Equal(t, *first.ResponseAttachment, *updated.ResponseAttachment)
	require.NotNil(t, updated.ResponseComment)
	assert.Equal(t, "Fecha corregida", *updated.ResponseComment)
}

func TestReviewApprovedDefaultsComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.svc.Submit(ctx, validSubmitInput())

	_, err := f.svc.Review(ctx, req.ID, actor("Revisor Uno"), ReviewInput{Approved: true})
	require.NoError(t, err)

	last := f.repo.events[len(f.repo.events)-1]
	assert.Equal(t, models.AuditKindReviewApproved, last.Kind)
	require.NotNil(t, last.Message)
	assert.Equal(t, "Approved", *last.Message)
}

func TestReviewReturnedRequiresComment(t *testing.T) {
	f := newFixture(t)
	req, _ := f.svc.Submit(context.Background(), validSubmitInput())

	_, err := f.svc.Review(context.Background(), req.ID, actor("Revisor"), ReviewInput{Approved: false, Comment: "  "})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSignRequiresReviewedState(t *testing.T) {
	f := newFixture(t)
	req, _ := f.svc.Submit(context.Background(), validSubmitInput())

	_, err := f.svc.Sign(context.Background(), req.ID, actor("Firmante"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{models.AuditKindFiled}, f.repo.kinds())
}

func TestFinalizeRequiresSignedState(t *testing.T) {
	f := newFixture(t)
	req, _ := f.svc.Submit(context.Background(), validSubmitInput())

	_, err := f.svc.Finalize(context.Background(), req.ID, actor("Responsable"), FileUpload{Filename: "acta.pdf", Data: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.storage.deleted, 1)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, validSubmitInput())
	require.NoError(t, err)

	_, err = f.svc.Assign(ctx, req.ID, actor("Asignador"), AssignInput{AssigneeID: 10, Classification: "Petición"})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, req.ID, actor("Responsable Uno"), RespondInput{
		Comment:    "Primer borrador",
		Attachment: FileUpload{Filename: "borrador.pdf", Data: []byte("v1")},
	})
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, req.ID, actor("Revisor Uno"), ReviewInput{Approved: false, Comment: "Ajustar el segundo párrafo"})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, req.ID, actor("Responsable Uno"), RespondInput{
		Comment:    "Borrador corregido",
		Attachment: FileUpload{Filename: "borrador2.pdf", Data: []byte("v2")},
	})
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, req.ID, actor("Revisor Uno"), ReviewInput{Approved: true})
	require.NoError(t, err)

	_, err = f.svc.Sign(ctx, req.ID, actor("Firmante Uno"))
	require.NoError(t, err)

	final, err := f.svc.Finalize(ctx, req.ID, actor("Responsable Uno"), FileUpload{Filename: "acta.pdf", Data: []byte("evidence")})
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, final.State)
	assert.True(t, final.Signed)
	require.NotNil(t, final.EvidenceAttachment)

	assert.Equal(t, []string{
		models.AuditKindFiled,
		models.AuditKindAssignment,
		models.AuditKindResponseSent,
		models.AuditKindReviewReturned,
		models.AuditKindResponseSent,
		models.AuditKindReviewApproved,
		models.AuditKindSignature,
		models.AuditKindFinalization,
	}, f.repo.kinds())

	assert.Equal(t, []string{"filed", "assigned", "responded", "returned", "responded", "approved", "signed", "completed"}, f.notifier.calls)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 8)
}

func TestListAssignedFiltersOpenWorkload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, _ := f.svc.Submit(ctx, validSubmitInput())
	_, err := f.svc.Assign(ctx, req.ID, actor("Asignador"), AssignInput{AssigneeID: 10, Classification: "Petición"})
	require.NoError(t, err)

	assigned, err := f.svc.ListAssigned(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, assigned, 1)

	other, err := f.svc.ListAssigned(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeleteRemovesStoredAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, _ := f.svc.Submit(ctx, validSubmitInput())
	require.NoError(t, f.svc.Delete(ctx, req.ID))

	_, err := f.svc.Get(ctx, req.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.NotEmpty(t, f.storage.deleted)
}

func TestGetMissingRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
