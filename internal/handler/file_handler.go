package handler

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	appErrors "github.com/eeredondo/pqrsd/pkg/errors"
	"github.com/eeredondo/pqrsd/pkg/response"
	"github.com/eeredondo/pqrsd/pkg/storage"
)

// FileHandler serves attachment downloads through signed tokens.
type FileHandler struct {
	storage *storage.LocalStorage
	signer  *storage.SignedURLSigner
}

// NewFileHandler creates a new handler.
func NewFileHandler(store *storage.LocalStorage, signer *storage.SignedURLSigner) *FileHandler {
	return &FileHandler{storage: store, signer: signer}
}

// Download godoc
// @Summary Download an attachment
// @Description Streams the attachment referenced by a valid signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200
// @Failure 401 {object} response.Envelope
// @Router /files/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	_, relPath, _, err := h.signer.Parse(token, false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token"))
		return
	}

	c.FileAttachment(h.storage.Path(relPath), filepath.Base(relPath))
}
