package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type mockRuleRepo struct {
	rules     map[string]*models.ConversionRule
	findCalls int
	findErr   error
	updated   *models.ConversionRule
}

func (m *mockRuleRepo) Create(ctx context.Context, rule *models.ConversionRule) error {
	rule.ID = "rule-id-" + rule.Code
	rule.Version = 1
	rule.State = models.RuleStateCurrent
	if m.rules == nil {
		m.rules = make(map[string]*models.ConversionRule)
	}
	m.rules[rule.Code] = rule
	return nil
}

func (m *mockRuleRepo) FindByCode(ctx context.Context, code string) (*models.ConversionRule, error) {
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	rule, ok := m.rules[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *rule
	return &copied, nil
}

func (m *mockRuleRepo) FindByScales(ctx context.Context, sourceScale, destScale string) (*models.ConversionRule, error) {
	for _, rule := range m.rules {
		if rule.SourceScale == sourceScale && rule.DestScale == destScale {
			copied := *rule
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockRuleRepo) List(ctx context.Context) ([]models.ConversionRule, error) {
	out := make([]models.ConversionRule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, *rule)
	}
	return out, nil
}

func (m *mockRuleRepo) Update(ctx context.Context, rule *models.ConversionRule) error {
	rule.Version++
	m.rules[rule.Code] = rule
	m.updated = rule
	return nil
}

// mockRuleCache is locked because transfers resolve rules from parallel
// goroutines.
type mockRuleCache struct {
	mu          sync.Mutex
	entries     map[string]*models.ConversionRule
	sets        int
	invalidated []string
}

func (m *mockRuleCache) Get(ctx context.Context, code string) (*models.ConversionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule, ok := m.entries[code]; ok {
		return rule, nil
	}
	return nil, appErrors.Clone(appErrors.ErrCacheMiss, "miss")
}

func (m *mockRuleCache) Set(ctx context.Context, rule *models.ConversionRule, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]*models.ConversionRule)
	}
	m.entries[rule.Code] = rule
	m.sets++
	return nil
}

func (m *mockRuleCache) Invalidate(ctx context.Context, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, code)
	m.invalidated = append(m.invalidated, code)
}

func newConversionService(rules *mockRuleRepo, cache *mockRuleCache) *ConversionService {
	audit := NewAuditService(&mockLedgerRepo{}, nil, zap.NewNop())
	return NewConversionService(rules, cache, &mockRecordRepo{}, audit, nil, validator.New(), zap.NewNop(), time.Hour, 0.001, 2, time.Millisecond)
}

func letterToTenRule() *models.ConversionRule {
	return &models.ConversionRule{
		ID:          "rule-id-us-ar",
		Code:        "US-AR",
		SourceScale: "us-letter",
		DestScale:   "ar-10",
		Version:     1,
		State:       models.RuleStateCurrent,
		Mapping: models.RuleMapping{
			{Source: "A", Dest: "10"},
			{Source: "B+", Dest: "8"},
			{Source: "3.7", Dest: "9"},
		},
	}
}

func TestConversionServiceResolveRuleCacheHit(t *testing.T) {
	rules := &mockRuleRepo{}
	cache := &mockRuleCache{entries: map[string]*models.ConversionRule{"US-AR": letterToTenRule()}}
	svc := newConversionService(rules, cache)

	rule, err := svc.ResolveRule(context.Background(), "US-AR")
	require.NoError(t, err)
	assert.Equal(t, "US-AR", rule.Code)
	assert.Zero(t, rules.findCalls)
}

func TestConversionServiceResolveRuleMissPopulatesCache(t *testing.T) {
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": letterToTenRule()}}
	cache := &mockRuleCache{}
	svc := newConversionService(rules, cache)

	rule, err := svc.ResolveRule(context.Background(), "US-AR")
	require.NoError(t, err)
	assert.Equal(t, "US-AR", rule.Code)
	assert.Equal(t, 1, rules.findCalls)
	assert.Contains(t, cache.entries, "US-AR")
}

func TestConversionServiceResolveRuleNotFoundNoRetry(t *testing.T) {
	rules := &mockRuleRepo{}
	svc := newConversionService(rules, &mockRuleCache{})

	_, err := svc.ResolveRule(context.Background(), "MISSING")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRuleNotFound))
	assert.Equal(t, 1, rules.findCalls)
}

func TestConversionServiceResolveRuleRetriesThenUnavailable(t *testing.T) {
	rules := &mockRuleRepo{findErr: errors.New("connection refused")}
	svc := newConversionService(rules, &mockRuleCache{})

	_, err := svc.ResolveRule(context.Background(), "US-AR")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStoreUnavailable))
	assert.Equal(t, 2, rules.findCalls)
}

func TestConversionServiceConvert(t *testing.T) {
	svc := newConversionService(&mockRuleRepo{}, &mockRuleCache{})
	rule := letterToTenRule()

	exact, err := svc.Convert(rule, models.LetterGrade("A"))
	require.NoError(t, err)
	assert.Equal(t, "10", exact.String())

	// Numeric matching tolerates float representation noise.
	near, err := svc.Convert(rule, models.NumericGrade(3.7000004))
	require.NoError(t, err)
	assert.Equal(t, "9", near.String())

	folded, err := svc.Convert(rule, models.LetterGrade("b+"))
	require.NoError(t, err)
	assert.Equal(t, "8", folded.String())
}

func TestConversionServiceConvertNoEquivalence(t *testing.T) {
	svc := newConversionService(&mockRuleRepo{}, &mockRuleCache{})

	_, err := svc.Convert(letterToTenRule(), models.LetterGrade("Z"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoEquivalence))
}

func TestConversionServiceApply(t *testing.T) {
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": letterToTenRule()}}
	svc := newConversionService(rules, &mockRuleCache{})

	converted, applied, err := svc.Apply(context.Background(), "us-letter", "ar-10", "registrar-1", models.LetterGrade("B+"))
	require.NoError(t, err)
	assert.Equal(t, "8", converted.String())
	assert.Equal(t, "US-AR", applied.RuleCode)
	assert.Equal(t, "ar-10", applied.DestScale)
	assert.Equal(t, "registrar-1", applied.Actor)
}

func TestConversionServiceCreateRuleRejectsDuplicateSource(t *testing.T) {
	svc := newConversionService(&mockRuleRepo{}, &mockRuleCache{})

	_, err := svc.CreateRule(context.Background(), CreateRuleRequest{
		Code:        "US-AR",
		SourceScale: "us-letter",
		DestScale:   "ar-10",
		Mapping: models.RuleMapping{
			{Source: "A", Dest: "10"},
			{Source: "A", Dest: "9"},
		},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestConversionServiceUpdateRuleVersionsAndInvalidates(t *testing.T) {
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": letterToTenRule()}}
	cache := &mockRuleCache{entries: map[string]*models.ConversionRule{"US-AR": letterToTenRule()}}
	ledger := &mockLedgerRepo{}
	audit := NewAuditService(ledger, nil, zap.NewNop())
	svc := NewConversionService(rules, cache, &mockRecordRepo{}, audit, nil, validator.New(), zap.NewNop(), time.Hour, 0.001, 2, time.Millisecond)

	updated, err := svc.UpdateRule(context.Background(), "US-AR", "registrar-1", models.RulePatch{
		Mapping: models.RuleMapping{{Source: "A", Dest: "9"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, []string{"US-AR"}, cache.invalidated)

	// The outgoing version is snapshotted to the ledger before the bump.
	require.Len(t, ledger.events, 1)
	assert.Equal(t, models.AuditActionRuleVersioned, ledger.events[0].Action)
	assert.Equal(t, "rule:US-AR", ledger.events[0].StudentID)
}

func TestConversionServiceApplyToRecord(t *testing.T) {
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": letterToTenRule()}}
	records := &mockRecordRepo{byID: map[string]*models.GradeRecord{
		"rec-1": {ID: "rec-1", StudentID: "stu-1", OriginalValue: "B+", OriginalKind: models.GradeLetter},
	}}
	ledger := &mockLedgerRepo{}
	audit := NewAuditService(ledger, nil, zap.NewNop())
	svc := NewConversionService(rules, &mockRuleCache{}, records, audit, nil, validator.New(), zap.NewNop(), time.Hour, 0.001, 2, time.Millisecond)

	applied, err := svc.ApplyToRecord(context.Background(), "rec-1", "US-AR", "registrar-1")
	require.NoError(t, err)
	assert.Equal(t, "8", applied.ConvertedValue)
	assert.Equal(t, "US-AR", applied.RuleCode)
	assert.Equal(t, "registrar-1", applied.Actor)

	require.Len(t, records.appended, 1)
	assert.Equal(t, "8", records.appended[0].ConvertedValue)

	require.Len(t, ledger.events, 1)
	assert.Equal(t, models.AuditActionConversionApplied, ledger.events[0].Action)
	assert.Equal(t, "stu-1", ledger.events[0].StudentID)
	assert.Equal(t, "8", ledger.events[0].Grade)
}

func TestConversionServiceApplyToRecordUnknownRecord(t *testing.T) {
	svc := newConversionService(&mockRuleRepo{}, &mockRuleCache{})

	_, err := svc.ApplyToRecord(context.Background(), "rec-missing", "US-AR", "registrar-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestConversionServiceInverseRulesRoundTrip(t *testing.T) {
	forward := &models.ConversionRule{
		Code: "AR-US", SourceScale: "ar-10", DestScale: "us-letter",
		Mapping: models.RuleMapping{{Source: "4", Dest: "D"}, {Source: "10", Dest: "A*"}},
	}
	inverse := &models.ConversionRule{
		Code: "US-AR", SourceScale: "us-letter", DestScale: "ar-10",
		Mapping: models.RuleMapping{{Source: "D", Dest: "4"}, {Source: "A*", Dest: "10"}},
	}
	svc := newConversionService(&mockRuleRepo{}, &mockRuleCache{})

	// The pass boundary survives a conversion there and back.
	out, err := svc.Convert(forward, models.ParseGradeValue("4"))
	require.NoError(t, err)
	back, err := svc.Convert(inverse, out)
	require.NoError(t, err)
	assert.Equal(t, "4", back.String())
}

func TestConversionServiceUpdateRuleRejectsRetired(t *testing.T) {
	retired := letterToTenRule()
	retired.State = models.RuleStateRetired
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": retired}}
	svc := newConversionService(rules, &mockRuleCache{})

	_, err := svc.UpdateRule(context.Background(), "US-AR", "registrar-1", models.RulePatch{
		Mapping: models.RuleMapping{{Source: "A", Dest: "9"}},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	assert.Nil(t, rules.updated)
}

func TestConversionServiceUpdateRuleAbortsWithoutSnapshot(t *testing.T) {
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": letterToTenRule()}}
	cache := &mockRuleCache{}
	audit := NewAuditService(&mockLedgerRepo{appendErr: errors.New("ledger down")}, nil, zap.NewNop())
	svc := NewConversionService(rules, cache, &mockRecordRepo{}, audit, nil, validator.New(), zap.NewNop(), time.Hour, 0.001, 2, time.Millisecond)

	// Without the prior-version snapshot the patch must not land.
	_, err := svc.UpdateRule(context.Background(), "US-AR", "registrar-1", models.RulePatch{
		Mapping: models.RuleMapping{{Source: "A", Dest: "9"}},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStoreUnavailable))
	assert.Nil(t, rules.updated)
	assert.Empty(t, cache.invalidated)
	assert.Equal(t, 1, rules.rules["US-AR"].Version)
}

func TestConversionServiceResolveRuleOutsideValidityWindow(t *testing.T) {
	expired := letterToTenRule()
	until := time.Now().UTC().Add(-24 * time.Hour)
	expired.ValidUntil = &until
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": expired}}
	cache := &mockRuleCache{}
	svc := newConversionService(rules, cache)

	_, err := svc.ResolveRule(context.Background(), "US-AR")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRuleNotFound))
	// An out-of-window rule never warms the cache.
	assert.Zero(t, cache.sets)

	// The same rule served from the cache is rejected too.
	cache.entries = map[string]*models.ConversionRule{"US-AR": expired}
	_, err = svc.ResolveRule(context.Background(), "US-AR")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRuleNotFound))
}

func TestConversionServiceApplySkipsNotYetValidRule(t *testing.T) {
	future := letterToTenRule()
	from := time.Now().UTC().Add(24 * time.Hour)
	future.ValidFrom = &from
	rules := &mockRuleRepo{rules: map[string]*models.ConversionRule{"US-AR": future}}
	svc := newConversionService(rules, &mockRuleCache{})

	_, _, err := svc.Apply(context.Background(), "us-letter", "ar-10", "registrar-1", models.LetterGrade("B+"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRuleNotFound))
}
