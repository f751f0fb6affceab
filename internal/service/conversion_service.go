package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type ruleRepo interface {
	Create(ctx context.Context, rule *models.ConversionRule) error
	FindByCode(ctx context.Context, code string) (*models.ConversionRule, error)
	FindByScales(ctx context.Context, sourceScale, destScale string) (*models.ConversionRule, error)
	List(ctx context.Context) ([]models.ConversionRule, error)
	Update(ctx context.Context, rule *models.ConversionRule) error
}

type ruleCache interface {
	Get(ctx context.Context, code string) (*models.ConversionRule, error)
	Set(ctx context.Context, rule *models.ConversionRule, ttl time.Duration) error
	Invalidate(ctx context.Context, code string)
}

type conversionRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.GradeRecord, error)
	AppendConversion(ctx context.Context, recordID string, conv models.AppliedConversion) error
}

// CreateRuleRequest is the payload for registering a conversion rule.
type CreateRuleRequest struct {
	Code        string              `json:"code" validate:"required"`
	SourceScale string              `json:"source_scale" validate:"required"`
	DestScale   string              `json:"dest_scale" validate:"required"`
	Mapping     models.RuleMapping  `json:"mapping" validate:"required,min=1,dive"`
	ValidFrom   *time.Time          `json:"valid_from"`
	ValidUntil  *time.Time          `json:"valid_until"`
}

// ConversionService is the grade conversion engine: a read-through rule
// cache in front of the rule store, plus the value-matching logic that turns
// a source-scale grade into its destination-scale equivalent.
type ConversionService struct {
	rules     ruleRepo
	cache     ruleCache
	records   conversionRecordStore
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger

	cacheTTL     time.Duration
	matchEpsilon float64
	readRetries  int
	retryBackoff time.Duration
}

// NewConversionService constructs ConversionService.
func NewConversionService(rules ruleRepo, cache ruleCache, records conversionRecordStore, audit *AuditService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration, matchEpsilon float64, readRetries int, retryBackoff time.Duration) *ConversionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 7 * 24 * time.Hour
	}
	if matchEpsilon <= 0 {
		matchEpsilon = 0.001
	}
	if readRetries <= 0 {
		readRetries = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = 100 * time.Millisecond
	}
	return &ConversionService{
		rules:        rules,
		cache:        cache,
		records:      records,
		audit:        audit,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cacheTTL:     cacheTTL,
		matchEpsilon: matchEpsilon,
		readRetries:  readRetries,
		retryBackoff: retryBackoff,
	}
}

// ResolveRule fetches a rule by code, cache first. A rule outside its
// validity window resolves as absent, whichever tier served it. A store miss
// after the cache miss is retried with backoff before giving up as
// unavailable; an absent rule is not retried.
func (s *ConversionService) ResolveRule(ctx context.Context, code string) (*models.ConversionRule, error) {
	if rule, err := s.cache.Get(ctx, code); err == nil {
		s.metrics.RecordRuleCacheLookup(true)
		if !rule.ActiveAt(time.Now().UTC()) {
			return nil, appErrors.Clone(appErrors.ErrRuleNotFound, "conversion rule "+code+" is outside its validity window")
		}
		return rule, nil
	} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("rule cache read failed", zap.String("code", code), zap.Error(err))
	}
	s.metrics.RecordRuleCacheLookup(false)

	var lastErr error
	for attempt := 0; attempt < s.readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "rule lookup cancelled")
			case <-time.After(s.retryBackoff):
			}
		}
		rule, err := s.rules.FindByCode(ctx, code)
		if err == nil {
			if !rule.ActiveAt(time.Now().UTC()) {
				return nil, appErrors.Clone(appErrors.ErrRuleNotFound, "conversion rule "+code+" is outside its validity window")
			}
			if cacheErr := s.cache.Set(ctx, rule, s.cacheTTL); cacheErr != nil {
				s.logger.Warn("rule cache populate failed", zap.String("code", code), zap.Error(cacheErr))
			}
			return rule, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrRuleNotFound, "conversion rule "+code+" not found")
		}
		lastErr = err
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "rule store unavailable")
}

// ResolveRuleForScales finds the current rule between two scales and warms
// the code-keyed cache with it. The store already filters on state and
// validity window; the in-process check covers rules served from elsewhere.
func (s *ConversionService) ResolveRuleForScales(ctx context.Context, sourceScale, destScale string) (*models.ConversionRule, error) {
	rule, err := s.rules.FindByScales(ctx, sourceScale, destScale)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrRuleNotFound, "no conversion rule from "+sourceScale+" to "+destScale)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "rule store unavailable")
	}
	if !rule.ActiveAt(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrRuleNotFound, "no conversion rule from "+sourceScale+" to "+destScale+" valid now")
	}
	if cacheErr := s.cache.Set(ctx, rule, s.cacheTTL); cacheErr != nil {
		s.logger.Warn("rule cache populate failed", zap.String("code", rule.Code), zap.Error(cacheErr))
	}
	return rule, nil
}

// Convert maps a source-scale value through the rule. Matching tries, in
// order: exact text match, numeric match within epsilon, then
// case-insensitive letter match. No partial or fuzzy fallback exists beyond
// that; an unmatched value is a hard NO_EQUIVALENCE.
func (s *ConversionService) Convert(rule *models.ConversionRule, value models.GradeValue) (models.GradeValue, error) {
	raw := value.String()
	for _, entry := range rule.Mapping {
		if entry.Source == raw {
			return models.ParseGradeValue(entry.Dest), nil
		}
	}
	if value.Kind == models.GradeNumeric {
		for _, entry := range rule.Mapping {
			src, err := strconv.ParseFloat(entry.Source, 64)
			if err != nil {
				continue
			}
			if math.Abs(src-value.Numeric) <= s.matchEpsilon {
				return models.ParseGradeValue(entry.Dest), nil
			}
		}
	} else {
		for _, entry := range rule.Mapping {
			if strings.EqualFold(entry.Source, value.Letter) {
				return models.ParseGradeValue(entry.Dest), nil
			}
		}
	}
	return models.GradeValue{}, appErrors.Clone(appErrors.ErrNoEquivalence, "value "+raw+" has no entry in rule "+rule.Code)
}

// Apply resolves the rule between two scales and converts the value through
// it, returning the applied-conversion provenance for the document mirror.
func (s *ConversionService) Apply(ctx context.Context, sourceScale, destScale, actor string, value models.GradeValue) (models.GradeValue, *models.AppliedConversion, error) {
	rule, err := s.ResolveRuleForScales(ctx, sourceScale, destScale)
	if err != nil {
		return models.GradeValue{}, nil, err
	}
	return s.applyRule(rule, actor, value)
}

// applyRule converts a value through an already-resolved rule.
func (s *ConversionService) applyRule(rule *models.ConversionRule, actor string, value models.GradeValue) (models.GradeValue, *models.AppliedConversion, error) {
	converted, err := s.Convert(rule, value)
	if err != nil {
		return models.GradeValue{}, nil, err
	}
	applied := &models.AppliedConversion{
		RuleCode:       rule.Code,
		DestScale:      rule.DestScale,
		ConvertedValue: converted.String(),
		ConvertedAt:    time.Now().UTC(),
		Actor:          actor,
	}
	s.metrics.RecordConversion(rule.Code)
	return converted, applied, nil
}

// ApplyToRecord converts a stored grade record through a named rule and
// appends the result to the record's conversion history. The original value
// is never mutated; the history only grows.
func (s *ConversionService) ApplyToRecord(ctx context.Context, recordID, ruleCode, actor string) (*models.AppliedConversion, error) {
	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade record "+recordID+" not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade record")
	}
	rule, err := s.ResolveRule(ctx, ruleCode)
	if err != nil {
		return nil, err
	}
	_, applied, err := s.applyRule(rule, actor, models.ParseGradeValue(record.OriginalValue))
	if err != nil {
		return nil, err
	}
	if err := s.records.AppendConversion(ctx, recordID, *applied); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append conversion")
	}
	s.audit.Record(ctx, AppendEntry{
		StudentID:   record.StudentID,
		Action:      models.AuditActionConversionApplied,
		Actor:       actor,
		Grade:       applied.ConvertedValue,
		Description: "record " + recordID + " converted via rule " + rule.Code,
		Payload:     applied,
	})
	return applied, nil
}

// CreateRule registers a new rule at version 1.
func (s *ConversionService) CreateRule(ctx context.Context, req CreateRuleRequest) (*models.ConversionRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}
	seen := make(map[string]struct{}, len(req.Mapping))
	for _, entry := range req.Mapping {
		if entry.Source == "" || entry.Dest == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "mapping entries need both source and dest values")
		}
		if _, dup := seen[entry.Source]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duplicate mapping source "+entry.Source)
		}
		seen[entry.Source] = struct{}{}
	}
	rule := &models.ConversionRule{
		Code:        req.Code,
		SourceScale: req.SourceScale,
		DestScale:   req.DestScale,
		Mapping:     req.Mapping,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rule")
	}
	if cacheErr := s.cache.Set(ctx, rule, s.cacheTTL); cacheErr != nil {
		s.logger.Warn("rule cache populate failed", zap.String("code", rule.Code), zap.Error(cacheErr))
	}
	return rule, nil
}

// ListRules returns every registered rule.
func (s *ConversionService) ListRules(ctx context.Context) ([]models.ConversionRule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rules")
	}
	return rules, nil
}

// UpdateRule versions a rule: the outgoing version is snapshotted into the
// audit ledger, the patch is applied with a version bump, and the cached
// entry is invalidated so readers converge on the new version. A retired
// rule is immutable; a patch without its snapshot never lands.
func (s *ConversionService) UpdateRule(ctx context.Context, code string, actor string, patch models.RulePatch) (*models.ConversionRule, error) {
	rule, err := s.rules.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrRuleNotFound, "conversion rule "+code+" not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rule")
	}
	if rule.State == models.RuleStateRetired {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "conversion rule "+code+" is retired and immutable")
	}
	if _, err := s.audit.Append(ctx, AppendEntry{
		StudentID:   "rule:" + rule.Code,
		Action:      models.AuditActionRuleVersioned,
		Actor:       actor,
		Description: "rule " + rule.Code + " superseded version " + strconv.Itoa(rule.Version),
		Payload:     rule,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to snapshot outgoing rule version")
	}
	if len(patch.Mapping) > 0 {
		rule.Mapping = patch.Mapping
	}
	if patch.ValidFrom != nil {
		rule.ValidFrom = patch.ValidFrom
	}
	if patch.ValidUntil != nil {
		rule.ValidUntil = patch.ValidUntil
	}
	if patch.State != nil {
		rule.State = *patch.State
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rule")
	}
	s.cache.Invalidate(ctx, rule.Code)
	return rule, nil
}
