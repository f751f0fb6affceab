package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/middleware"
	"github.com/edugrade/edugrade-api/internal/service"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
	"github.com/edugrade/edugrade-api/pkg/response"
)

// TransferHandler exposes institution transfers.
type TransferHandler struct {
	transfers *service.TransferService
}

// NewTransferHandler constructs handler.
func NewTransferHandler(transfers *service.TransferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

// Transfer homologates a student into a destination institution and swaps
// the membership.
func (h *TransferHandler) Transfer(c *gin.Context) {
	var req service.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.StudentID = c.Param("studentId")
	result, err := h.transfers.Transfer(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		if result != nil {
			// A partial run surfaces the subjects that settled so the
			// caller can retry idempotently.
			response.ErrorWithData(c, err, result)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
