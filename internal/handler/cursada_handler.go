package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/middleware"
	"github.com/edugrade/edugrade-api/internal/service"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
	"github.com/edugrade/edugrade-api/pkg/response"
)

// CursadaHandler exposes the enrollment attempt lifecycle.
type CursadaHandler struct {
	attempts *service.CursadaService
}

// NewCursadaHandler constructs handler.
func NewCursadaHandler(attempts *service.CursadaService) *CursadaHandler {
	return &CursadaHandler{attempts: attempts}
}

// Enroll opens an attempt for a student in a subject.
func (h *CursadaHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	attempt, err := h.attempts.Enroll(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, attempt)
}

// RecordGrade writes one grade slot on the open attempt.
func (h *CursadaHandler) RecordGrade(c *gin.Context) {
	var req service.RecordGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.StudentID = c.Param("studentId")
	req.SubjectID = c.Param("subjectId")
	if err := h.attempts.RecordGrade(c.Request.Context(), req, middleware.ActorFrom(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Close seals the open attempt and returns the decided outcome.
func (h *CursadaHandler) Close(c *gin.Context) {
	req := service.CloseRequest{
		StudentID: c.Param("studentId"),
		SubjectID: c.Param("subjectId"),
	}
	attempt, err := h.attempts.Close(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempt)
}

// Trajectory lists every attempt of a student.
func (h *CursadaHandler) Trajectory(c *gin.Context) {
	attempts, err := h.attempts.Trajectory(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempts)
}

// Approved lists the student's approved subjects, latest re-take only.
func (h *CursadaHandler) Approved(c *gin.Context) {
	approved, err := h.attempts.Approved(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approved)
}
