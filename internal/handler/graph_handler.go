package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/service"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
	"github.com/edugrade/edugrade-api/pkg/response"
)

// GraphHandler exposes administration of the trajectory graph nodes and
// edges.
type GraphHandler struct {
	graph *service.GraphService
}

// NewGraphHandler constructs handler.
func NewGraphHandler(graph *service.GraphService) *GraphHandler {
	return &GraphHandler{graph: graph}
}

// CreateStudent registers a student.
func (h *GraphHandler) CreateStudent(c *gin.Context) {
	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.graph.CreateStudent(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// GetStudent returns a student with membership.
func (h *GraphHandler) GetStudent(c *gin.Context) {
	student, membership, err := h.graph.GetStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"student": student, "membership": membership})
}

// ListStudents lists students, optionally by institution.
func (h *GraphHandler) ListStudents(c *gin.Context) {
	students, err := h.graph.ListStudents(c.Request.Context(), c.Query("institution_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students)
}

// DeleteStudent deactivates a student without dropping history.
func (h *GraphHandler) DeleteStudent(c *gin.Context) {
	if err := h.graph.DeactivateStudent(c.Request.Context(), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateInstitution registers an institution.
func (h *GraphHandler) CreateInstitution(c *gin.Context) {
	var req service.CreateInstitutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	inst, err := h.graph.CreateInstitution(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inst)
}

// ListInstitutions lists institutions.
func (h *GraphHandler) ListInstitutions(c *gin.Context) {
	institutions, err := h.graph.ListInstitutions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, institutions)
}

// DeleteInstitution deactivates an institution.
func (h *GraphHandler) DeleteInstitution(c *gin.Context) {
	if err := h.graph.DeactivateInstitution(c.Request.Context(), c.Param("institutionId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateSubject registers a subject.
func (h *GraphHandler) CreateSubject(c *gin.Context) {
	var req service.CreateSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	subject, err := h.graph.CreateSubject(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, subject)
}

// ListSubjects lists an institution's subjects.
func (h *GraphHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.graph.ListSubjects(c.Request.Context(), c.Param("institutionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects)
}

// DeleteSubject deactivates a subject.
func (h *GraphHandler) DeleteSubject(c *gin.Context) {
	if err := h.graph.DeactivateSubject(c.Request.Context(), c.Param("subjectId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateEquivalence links two subjects as equivalent.
func (h *GraphHandler) CreateEquivalence(c *gin.Context) {
	var req service.CreateEquivalenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.graph.CreateEquivalence(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"status": "linked"})
}

// CreateCareer registers a career plan.
func (h *GraphHandler) CreateCareer(c *gin.Context) {
	var req service.CreateCareerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	career, err := h.graph.CreateCareer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, career)
}

type addCareerSubjectRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	Position  int    `json:"position"`
}

// AddCareerSubject appends a subject to a career plan.
func (h *GraphHandler) AddCareerSubject(c *gin.Context) {
	var req addCareerSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.graph.AddCareerSubject(c.Request.Context(), c.Param("careerId"), req.SubjectID, req.Position); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CareerSubjects lists the subjects of a career plan in order.
func (h *GraphHandler) CareerSubjects(c *gin.Context) {
	subjects, err := h.graph.CareerSubjects(c.Request.Context(), c.Param("careerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects)
}
