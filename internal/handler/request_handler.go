package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eeredondo/pqrsd/internal/models"
	"github.com/eeredondo/pqrsd/internal/service"
	appErrors "github.com/eeredondo/pqrsd/pkg/errors"
	"github.com/eeredondo/pqrsd/pkg/response"
	"github.com/eeredondo/pqrsd/pkg/storage"
)

// RequestHandler wires HTTP endpoints to the request lifecycle service.
type RequestHandler struct {
	service *service.RequestService
	signer  *storage.SignedURLSigner
	metrics *service.MetricsService
	maxSize int64
}

// NewRequestHandler creates a new handler.
func NewRequestHandler(svc *service.RequestService, signer *storage.SignedURLSigner, metrics *service.MetricsService, maxUploadSize int64) *RequestHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = 10 * 1024 * 1024
	}
	return &RequestHandler{service: svc, signer: signer, metrics: metrics, maxSize: maxUploadSize}
}

func (h *RequestHandler) requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request id"))
		return 0, false
	}
	return id, true
}

func (h *RequestHandler) formUpload(c *gin.Context, field string) (service.FileUpload, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return service.FileUpload{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("missing %s file", field))
	}
	if fileHeader.Size > h.maxSize {
		return service.FileUpload{}, appErrors.Clone(appErrors.ErrValidation, "file exceeds the allowed size")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return service.FileUpload{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload")
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		return service.FileUpload{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	if int64(len(data)) > h.maxSize {
		return service.FileUpload{}, appErrors.Clone(appErrors.ErrValidation, "file exceeds the allowed size")
	}
	return service.FileUpload{Filename: fileHeader.Filename, Data: data}, nil
}

// Submit godoc
// @Summary File a citizen request
// @Description Files a new PQRSD request with its attachment and returns the assigned radicado
// @Tags Requests
// @Accept mpfd
// @Produce json
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	attachment, err := h.formUpload(c, "attachment")
	if err != nil {
		response.Error(c, err)
		return
	}

	input := service.SubmitInput{
		Name:         c.PostForm("name"),
		Surname:      c.PostForm("surname"),
		Email:        c.PostForm("email"),
		Phone:        c.PostForm("phone"),
		Department:   c.PostForm("department"),
		Municipality: c.PostForm("municipality"),
		Address:      c.PostForm("address"),
		Message:      c.PostForm("message"),
		Attachment:   attachment,
	}

	req, err := h.service.Submit(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveFiled()
	response.Created(c, req)
}

// List godoc
// @Summary List requests
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	requests, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get one request
// @Tags Requests
// @Produce json
// @Param id path int true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	req, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// ListAssigned godoc
// @Summary List a handler's open workload
// @Tags Requests
// @Produce json
// @Param userId path int true "Staff member id"
// @Success 200 {object} response.Envelope
// @Router /requests/assigned/{userId} [get]
func (h *RequestHandler) ListAssigned(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid user id"))
		return
	}
	requests, err := h.service.ListAssigned(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Assign godoc
// @Summary Assign a request to a handler
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request id"
// @Param userId path int true "Handler id"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/assign/{userId} [post]
func (h *RequestHandler) Assign(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	assigneeID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || assigneeID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid assignee id"))
		return
	}

	var payload struct {
		Classification string `json:"classification"`
		TermDays       int    `json:"term_days"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}

	req, err := h.service.Assign(c.Request.Context(), id, claimsFromContext(c), service.AssignInput{
		AssigneeID:     assigneeID,
		Classification: payload.Classification,
		TermDays:       payload.TermDays,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(req.State))
	response.JSON(c, http.StatusOK, req, nil)
}

// Respond godoc
// @Summary Submit the handler's draft response
// @Tags Requests
// @Accept mpfd
// @Produce json
// @Param id path int true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/respond [post]
func (h *RequestHandler) Respond(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	var attachment service.FileUpload
	if _, headerErr := c.FormFile("attachment"); headerErr == nil {
		upload, err := h.formUpload(c, "attachment")
		if err != nil {
			response.Error(c, err)
			return
		}
		attachment = upload
	}

	req, err := h.service.Respond(c.Request.Context(), id, claimsFromContext(c), service.RespondInput{
		Comment:    c.PostForm("comment"),
		Attachment: attachment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(req.State))
	response.JSON(c, http.StatusOK, req, nil)
}

// Review godoc
// @Summary Record the reviewer's verdict
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/review [post]
func (h *RequestHandler) Review(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var payload struct {
		Approved bool   `json:"approved"`
		Comment  string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}

	req, err := h.service.Review(c.Request.Context(), id, claimsFromContext(c), service.ReviewInput{
		Approved: payload.Approved,
		Comment:  payload.Comment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(req.State))
	response.JSON(c, http.StatusOK, req, nil)
}

// Sign godoc
// @Summary Sign the reviewed response
// @Tags Requests
// @Produce json
// @Param id path int true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/sign [post]
func (h *RequestHandler) Sign(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	req, err := h.service.Sign(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(req.State))
	response.JSON(c, http.StatusOK, req, nil)
}

// Finalize godoc
// @Summary Close a signed request with delivery evidence
// @Tags Requests
// @Accept mpfd
// @Produce json
// @Param id path int true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/finalize [post]
func (h *RequestHandler) Finalize(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	evidence, err := h.formUpload(c, "evidence")
	if err != nil {
		response.Error(c, err)
		return
	}

	req, err := h.service.Finalize(c.Request.Context(), id, claimsFromContext(c), evidence)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveTransition(string(req.State))
	response.JSON(c, http.StatusOK, req, nil)
}

// Delete godoc
// @Summary Delete a request and its audit trail
// @Tags Requests
// @Param id path int true "Request id"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary Audit trail of a request
// @Tags Requests
// @Produce json
// @Param id path int true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/history [get]
func (h *RequestHandler) History(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	events, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// FileLink godoc
// @Summary Signed download link for a request attachment
// @Description Returns a short-lived token URL for one of the request's attachment slots
// @Tags Requests
// @Produce json
// @Param id path int true "Request id"
// @Param kind path string true "Attachment slot" Enums(original, response, response_pdf, evidence)
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/files/{kind} [get]
func (h *RequestHandler) FileLink(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	kind := models.AttachmentKind(c.Param("kind"))

	req, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	ref := req.AttachmentRef(kind)
	if ref == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "attachment not available"))
		return
	}

	token, expiresAt, err := h.signer.Generate(strconv.FormatInt(id, 10), *ref)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download"))
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"url":        fmt.Sprintf("/api/v1/files/download?token=%s", token),
		"expires_at": expiresAt,
	}, nil)
}
