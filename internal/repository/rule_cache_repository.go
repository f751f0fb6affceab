package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

const ruleKeyPrefix = "conversion:"

// RuleCacheRepository is the read-through cache in front of the rule store.
// A nil client degrades to a permanent miss so the engine keeps working when
// Redis is down.
type RuleCacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRuleCacheRepository constructs a rule cache repository.
func NewRuleCacheRepository(client *redis.Client, logger *zap.Logger) *RuleCacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleCacheRepository{client: client, logger: logger}
}

// Get retrieves a cached rule by code.
func (r *RuleCacheRepository) Get(ctx context.Context, code string) (*models.ConversionRule, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, ruleKeyPrefix+code).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get rule %s: %w", code, err)
	}
	var rule models.ConversionRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, fmt.Errorf("unmarshal cached rule %s: %w", code, err)
	}
	return &rule, nil
}

// Set stores a rule under its code with the configured TTL.
func (r *RuleCacheRepository) Set(ctx context.Context, rule *models.ConversionRule, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", rule.Code, err)
	}
	if err := r.client.Set(ctx, ruleKeyPrefix+rule.Code, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set rule %s: %w", rule.Code, err)
	}
	return nil
}

// Invalidate drops the cached entry for a rule code. Invalidation failures
// are logged, not fatal: the entry expires on its own at TTL.
func (r *RuleCacheRepository) Invalidate(ctx context.Context, code string) {
	if r.client == nil {
		return
	}
	if err := r.client.Del(ctx, ruleKeyPrefix+code).Err(); err != nil {
		r.logger.Warn("rule cache invalidation failed", zap.String("code", code), zap.Error(err))
	}
}
