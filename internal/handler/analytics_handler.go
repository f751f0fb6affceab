package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/models"
	"github.com/edugrade/edugrade-api/internal/service"
	"github.com/edugrade/edugrade-api/pkg/response"
)

// AnalyticsHandler exposes the pre-aggregated counter cells.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

func observationFromQuery(c *gin.Context) models.ObservationContext {
	year, _ := strconv.Atoi(c.Query("year"))
	return models.ObservationContext{
		Region:        c.Query("region"),
		InstitutionID: c.Query("institution_id"),
		Country:       c.Query("country"),
		Level:         c.Query("level"),
		Year:          year,
	}
}

// RegionalAverage returns the average cell for a region/institution/year.
func (h *AnalyticsHandler) RegionalAverage(c *gin.Context) {
	summary, err := h.analytics.RegionalAverage(c.Request.Context(), observationFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// PassRate returns the approval cell for a country/level/year.
func (h *AnalyticsHandler) PassRate(c *gin.Context) {
	summary, err := h.analytics.PassRate(c.Request.Context(), observationFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// Distribution returns the grade distribution buckets for a
// country/level/year.
func (h *AnalyticsHandler) Distribution(c *gin.Context) {
	cells, err := h.analytics.Distribution(c.Request.Context(), observationFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cells)
}
