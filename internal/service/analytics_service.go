package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type analyticsRepo interface {
	Observe(ctx context.Context, obs models.ObservationContext, norm float64, passed bool) error
	Cell(ctx context.Context, key string) (models.CellSummary, error)
	Distribution(ctx context.Context, obs models.ObservationContext) ([]models.DistributionCell, error)
}

// AnalyticsService folds grade observations into pre-aggregated counter
// cells at write time. Reads are single-cell lookups; there is no scan or
// recomputation path.
type AnalyticsService struct {
	cells   analyticsRepo
	enabled bool
	logger  *zap.Logger
}

// NewAnalyticsService constructs AnalyticsService.
func NewAnalyticsService(cells analyticsRepo, enabled bool, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{cells: cells, enabled: enabled, logger: logger}
}

// Observe records one normalized grade observation. Counter failures degrade
// to a warning: the cells drift until the next observation, the grade write
// has already succeeded.
func (s *AnalyticsService) Observe(ctx context.Context, obs models.ObservationContext, norm float64, passed bool) {
	if !s.enabled {
		return
	}
	if err := s.cells.Observe(ctx, obs, norm, passed); err != nil {
		s.logger.Warn("analytics observation failed",
			zap.String("institution_id", obs.InstitutionID),
			zap.Error(err))
	}
}

// RegionalAverage returns the geo cell for a region/institution/year.
func (s *AnalyticsService) RegionalAverage(ctx context.Context, obs models.ObservationContext) (models.CellSummary, error) {
	summary, err := s.cells.Cell(ctx, obs.GeoCellKey())
	if err != nil {
		return summary, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "analytics store unavailable")
	}
	return summary, nil
}

// PassRate returns the approval cell for a country/level/year.
func (s *AnalyticsService) PassRate(ctx context.Context, obs models.ObservationContext) (models.CellSummary, error) {
	summary, err := s.cells.Cell(ctx, obs.PassCellKey())
	if err != nil {
		return summary, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "analytics store unavailable")
	}
	return summary, nil
}

// Distribution returns every grade bucket for a country/level/year.
func (s *AnalyticsService) Distribution(ctx context.Context, obs models.ObservationContext) ([]models.DistributionCell, error) {
	cells, err := s.cells.Distribution(ctx, obs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "analytics store unavailable")
	}
	return cells, nil
}
