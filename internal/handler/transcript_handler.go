package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/middleware"
	"github.com/edugrade/edugrade-api/internal/service"
	"github.com/edugrade/edugrade-api/pkg/response"
)

// TranscriptHandler exposes transcript assembly and export.
type TranscriptHandler struct {
	transcripts *service.TranscriptService
}

// NewTranscriptHandler constructs handler.
func NewTranscriptHandler(transcripts *service.TranscriptService) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts}
}

// Get returns the assembled transcript as JSON. An optional career_id query
// adds career-plan progress.
func (h *TranscriptHandler) Get(c *gin.Context) {
	transcript, err := h.transcripts.Build(c.Request.Context(), c.Param("studentId"), c.Query("career_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transcript)
}

// Export streams the transcript as CSV or PDF.
func (h *TranscriptHandler) Export(c *gin.Context) {
	studentID := c.Param("studentId")
	format := c.DefaultQuery("format", "pdf")
	payload, contentType, err := h.transcripts.Export(c.Request.Context(), studentID, c.Query("career_id"), format, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("transcript-%s.%s", studentID, format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
