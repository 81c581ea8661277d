package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eeredondo/pqrsd/internal/models"
	"github.com/eeredondo/pqrsd/internal/service"
	appErrors "github.com/eeredondo/pqrsd/pkg/errors"
	"github.com/eeredondo/pqrsd/pkg/response"
)

// UserHandler wires HTTP endpoints to the staff directory service.
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler creates a new handler.
func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

// Create godoc
// @Summary Create staff account
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.CreateUserInput true "User payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var input service.CreateUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}

	user, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, user)
}

// List godoc
// @Summary List staff members
// @Description Lists the staff directory, optionally filtered by role
// @Tags Users
// @Produce json
// @Param role query string false "Staff role filter"
// @Success 200 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	if role := c.Query("role"); role != "" {
		users, err := h.service.ListByRole(c.Request.Context(), models.UserRole(role))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, users, nil)
		return
	}

	users, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, nil)
}

// Me godoc
// @Summary Current staff profile
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.service.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}
