package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/orchestrator/internal/orcherr"
)

func fullCatalog() []ModelDescriptor {
	return []ModelDescriptor{
		{ID: "local-think", Purpose: PurposeThinking, Tier: TierLocal, Priority: 1},
		{ID: "local-gen", Purpose: PurposeCodeGeneration, Tier: TierLocal, Priority: 1},
		{ID: "local-gen-2", Purpose: PurposeCodeGeneration, Tier: TierLocal, Priority: 2},
		{ID: "cloud-gen", Purpose: PurposeCodeGeneration, Tier: TierCloud, Priority: 1, SupportedLanguages: []string{"python"}},
		{ID: "local-val", Purpose: PurposeValidation, Tier: TierLocal, Priority: 1},
	}
}

func TestNewRegistryRejectsCatalogMissingRequiredPurpose(t *testing.T) {
	_, err := NewRegistry([]ModelDescriptor{{ID: "x", Purpose: PurposeThinking, Tier: TierLocal}}, nil)
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindConfig, kind)
}

func TestNewRegistryRejectsEmptyCatalog(t *testing.T) {
	_, err := NewRegistry(nil, nil)
	require.Error(t, err)
}

func TestPrimaryReturnsLowestTierLowestPriority(t *testing.T) {
	r, err := NewRegistry(fullCatalog(), nil)
	require.NoError(t, err)

	m, err := r.Primary(PurposeCodeGeneration)
	require.NoError(t, err)
	assert.Equal(t, "local-gen", m.ID)
}

func TestPrimaryErrorsForUnknownPurpose(t *testing.T) {
	r, err := NewRegistry(fullCatalog(), nil)
	require.NoError(t, err)
	_, err = r.Primary(PurposeGeneral)
	require.Error(t, err)
}

func TestSelectNextExcludesMaxTierAndLanguage(t *testing.T) {
	r, err := NewRegistry(fullCatalog(), nil)
	require.NoError(t, err)

	_, ok := r.SelectNext(PurposeCodeGeneration, nil, TierLocal, 0, Hint{Language: "python"})
	require.True(t, ok, "a local candidate should still be selectable even with a python hint")

	m, ok := r.SelectNext(PurposeCodeGeneration, map[string]bool{"local-gen": true, "local-gen-2": true}, TierCloud, 0, Hint{Language: "python"})
	require.True(t, ok)
	assert.Equal(t, "cloud-gen", m.ID)

	_, ok = r.SelectNext(PurposeCodeGeneration, map[string]bool{"local-gen": true, "local-gen-2": true}, TierLocal, 0, Hint{})
	assert.False(t, ok, "excluding every local candidate with maxTier=Local must exhaust")
}

func TestSelectNextOrdersByPriorityThenSuccessRate(t *testing.T) {
	r, err := NewRegistry(fullCatalog(), nil)
	require.NoError(t, err)

	m, ok := r.SelectNext(PurposeCodeGeneration, nil, TierLocal, 0, Hint{})
	require.True(t, ok)
	assert.Equal(t, "local-gen", m.ID, "lower Priority value must win regardless of history")
}

func TestSelectNextBreaksPriorityTieOnSuccessRate(t *testing.T) {
	catalog := []ModelDescriptor{
		{ID: "a", Purpose: PurposeCodeGeneration, Tier: TierLocal, Priority: 1},
		{ID: "b", Purpose: PurposeCodeGeneration, Tier: TierLocal, Priority: 1},
		{ID: "think", Purpose: PurposeThinking, Tier: TierLocal, Priority: 1},
		{ID: "val", Purpose: PurposeValidation, Tier: TierLocal, Priority: 1},
	}
	r, err := NewRegistry(catalog, nil)
	require.NoError(t, err)

	r.Record(PerformanceRecord{Model: "a", Outcome: OutcomeFailure})
	r.Record(PerformanceRecord{Model: "b", Outcome: OutcomeSuccess})

	m, ok := r.SelectNext(PurposeCodeGeneration, nil, TierLocal, 0, Hint{})
	require.True(t, ok)
	assert.Equal(t, "b", m.ID, "on a priority tie, the model with a better success rate should win")
}

func TestSelectNextFiltersByResourceBudget(t *testing.T) {
	catalog := []ModelDescriptor{
		{ID: "local-gen", Purpose: PurposeCodeGeneration, Tier: TierLocal, Priority: 2, ApproximateWeight: 1},
		{ID: "cloud-gen", Purpose: PurposeCodeGeneration, Tier: TierCloud, Priority: 1, ApproximateWeight: 4},
		{ID: "premium-gen", Purpose: PurposeCodeGeneration, Tier: TierPremium, Priority: 0, ApproximateWeight: 10},
		{ID: "think", Purpose: PurposeThinking, Tier: TierLocal},
		{ID: "val", Purpose: PurposeValidation, Tier: TierLocal},
	}
	r, err := NewRegistry(catalog, nil)
	require.NoError(t, err)

	// Premium has the lowest Priority but its weight (10) blows a budget of 5;
	// cloud-gen (weight 4) must win instead even though local-gen is cheaper,
	// since priority still governs among in-budget candidates.
	m, ok := r.SelectNext(PurposeCodeGeneration, nil, TierPremium, 5, Hint{})
	require.True(t, ok)
	assert.Equal(t, "cloud-gen", m.ID, "a candidate over the declared budget must be excluded even at the best priority/tier")

	// A budget below every candidate's weight exhausts the purpose entirely.
	_, ok = r.SelectNext(PurposeCodeGeneration, nil, TierPremium, 0.5, Hint{})
	assert.False(t, ok, "no candidate fits a budget smaller than every weight")

	// maxWeight <= 0 means no budget was declared: every weight fits.
	m, ok = r.SelectNext(PurposeCodeGeneration, nil, TierPremium, 0, Hint{})
	require.True(t, ok)
	assert.Equal(t, "premium-gen", m.ID, "a zero budget must not filter anything")
}

func TestReloadSwapsCatalogAtomically(t *testing.T) {
	r, err := NewRegistry(fullCatalog(), nil)
	require.NoError(t, err)

	replacement := []ModelDescriptor{
		{ID: "new-think", Purpose: PurposeThinking, Tier: TierLocal},
		{ID: "new-gen", Purpose: PurposeCodeGeneration, Tier: TierLocal},
		{ID: "new-val", Purpose: PurposeValidation, Tier: TierLocal},
	}
	require.NoError(t, r.Reload(replacement))
	assert.Len(t, r.Catalog(), 3)

	m, err := r.Primary(PurposeCodeGeneration)
	require.NoError(t, err)
	assert.Equal(t, "new-gen", m.ID)
}

func TestReloadRejectsInvalidCatalogLeavingPriorCatalogInPlace(t *testing.T) {
	r, err := NewRegistry(fullCatalog(), nil)
	require.NoError(t, err)

	err = r.Reload([]ModelDescriptor{{ID: "only-thinker", Purpose: PurposeThinking, Tier: TierLocal}})
	require.Error(t, err)
	assert.Len(t, r.Catalog(), len(fullCatalog()), "a rejected reload must not mutate the live catalog")
}
