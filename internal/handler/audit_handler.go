package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/models"
	"github.com/edugrade/edugrade-api/internal/service"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
	"github.com/edugrade/edugrade-api/pkg/response"
)

// AuditHandler exposes the read side of the audit ledger.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler constructs handler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

type trailEvent struct {
	models.AuditEvent
	Verified bool `json:"verified"`
}

// Trail returns a student's events, newest first, with per-event integrity
// verification.
func (h *AuditHandler) Trail(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.audit.Trail(c.Request.Context(), c.Param("studentId"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]trailEvent, 0, len(events))
	for i := range events {
		out = append(out, trailEvent{AuditEvent: events[i], Verified: h.audit.Verify(&events[i])})
	}
	response.JSON(c, http.StatusOK, out)
}

// ByDateRange scans the date projection for compliance reads.
func (h *AuditHandler) ByDateRange(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339"))
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.audit.ByDateRange(c.Request.Context(), from, to, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events)
}
