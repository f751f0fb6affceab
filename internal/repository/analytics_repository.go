package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/edugrade/edugrade-api/internal/models"
)

// AnalyticsRepository maintains the pre-aggregated counter cells in Redis.
// Each cell is a hash whose fields are bumped with atomic increments, so
// concurrent writers never lose observations and reads never scan raw events.
type AnalyticsRepository struct {
	client *redis.Client
}

// NewAnalyticsRepository constructs an analytics repository.
func NewAnalyticsRepository(client *redis.Client) *AnalyticsRepository {
	return &AnalyticsRepository{client: client}
}

// Observe folds one normalized grade into every cell derived from the
// observation context: the geo average cell, the pass-rate cell and the
// distribution bucket. All increments ride one pipeline round trip.
func (r *AnalyticsRepository) Observe(ctx context.Context, obs models.ObservationContext, norm float64, passed bool) error {
	if r.client == nil {
		return nil
	}
	pipe := r.client.Pipeline()
	geo := obs.GeoCellKey()
	pipe.HIncrByFloat(ctx, geo, "sum", norm)
	pipe.HIncrBy(ctx, geo, "count", 1)
	pass := obs.PassCellKey()
	pipe.HIncrBy(ctx, pass, "count", 1)
	if passed {
		pipe.HIncrBy(ctx, pass, "passed", 1)
	}
	pipe.HIncrBy(ctx, obs.BucketCellKey(models.GradeBucket(norm)), "count", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("observe analytics: %w", err)
	}
	return nil
}

// Cell reads one counter cell. A missing cell comes back as zeros.
func (r *AnalyticsRepository) Cell(ctx context.Context, key string) (models.CellSummary, error) {
	summary := models.CellSummary{Key: key}
	if r.client == nil {
		return summary, nil
	}
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return summary, fmt.Errorf("read cell %s: %w", key, err)
	}
	summary.Sum, _ = strconv.ParseFloat(fields["sum"], 64)
	summary.Count, _ = strconv.ParseInt(fields["count"], 10, 64)
	summary.Passed, _ = strconv.ParseInt(fields["passed"], 10, 64)
	if summary.Count > 0 {
		summary.Average = summary.Sum / float64(summary.Count)
	}
	return summary, nil
}

// Distribution reads every bucket cell for the context.
func (r *AnalyticsRepository) Distribution(ctx context.Context, obs models.ObservationContext) ([]models.DistributionCell, error) {
	cells := make([]models.DistributionCell, 0, len(models.GradeBuckets))
	for _, bucket := range models.GradeBuckets {
		var count int64
		if r.client != nil {
			raw, err := r.client.HGet(ctx, obs.BucketCellKey(bucket), "count").Result()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("read bucket %s: %w", bucket, err)
			}
			count, _ = strconv.ParseInt(raw, 10, 64)
		}
		cells = append(cells, models.DistributionCell{Bucket: bucket, Count: count})
	}
	return cells, nil
}
