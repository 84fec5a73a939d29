package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/codeforge/orchestrator/internal/orcherr"
)

// Registry owns the configured model catalog (spec §6.3 Models.Catalog) and
// implements the Selector contract of spec §4.1. It is read-only at run time
// (spec §5) once NewRegistry (or a later Reload) has populated it; the sole cross-job mutable piece is
// the embedded PerformanceStore.
type Registry struct {
	mu      sync.RWMutex
	catalog []ModelDescriptor
	perf    *PerformanceStore
}

// NewRegistry builds a Registry over catalog, validating spec §4.1's
// ConfigError condition (the catalog must cover every purpose it will be
// asked for).
func NewRegistry(catalog []ModelDescriptor, perf *PerformanceStore) (*Registry, error) {
	if perf == nil {
		perf = NewPerformanceStore()
	}
	r := &Registry{perf: perf}
	if err := r.Reload(catalog); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload atomically swaps the catalog, supporting the fsnotify-driven
// hot-reload described in SPEC_FULL.md Part D.
func (r *Registry) Reload(catalog []ModelDescriptor) error {
	if len(catalog) == 0 {
		return orcherr.New("model.Reload", orcherr.KindConfig, "", "catalog is empty", nil)
	}
	for _, required := range []Purpose{PurposeThinking, PurposeCodeGeneration, PurposeValidation} {
		found := false
		for _, m := range catalog {
			if m.Purpose == required {
				found = true
				break
			}
		}
		if !found {
			return orcherr.New("model.Reload", orcherr.KindConfig, "",
				fmt.Sprintf("catalog has no model for required purpose %s", required), nil)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog = append([]ModelDescriptor(nil), catalog...)
	return nil
}

// Primary returns the pinned lowest-tier, lowest-priority model for purpose
// (spec §4.1: "the pinned lowest-tier model for a purpose, always
// loaded/available").
func (r *Registry) Primary(purpose Purpose) (ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *ModelDescriptor
	for i := range r.catalog {
		m := r.catalog[i]
		if m.Purpose != purpose {
			continue
		}
		if best == nil || tierRank[m.Tier] < tierRank[best.Tier] ||
			(m.Tier == best.Tier && m.Priority < best.Priority) {
			mm := m
			best = &mm
		}
	}
	if best == nil {
		return ModelDescriptor{}, orcherr.New("model.Primary", orcherr.KindConfig, "",
			fmt.Sprintf("no catalog entry for purpose %s", purpose), nil)
	}
	return *best, nil
}

// SelectNext implements spec §4.1's selectNext: returns a candidate matching
// purpose, not excluded, within maxTier, within the declared resource
// budget (spec §4.1: "resource weight fits the declared budget"),
// language-compatible with hint, ordered by priority with
// historical-success-rate as the tiebreaker. maxWeight <= 0 means no budget
// was declared and every weight fits. ok is false when every candidate is
// excluded (spec's AllModelsExhausted trigger, left for the Iteration
// Engine to act on).
func (r *Registry) SelectNext(purpose Purpose, excluded map[string]bool, maxTier Tier, maxWeight float64, hint Hint) (ModelDescriptor, bool) {
	r.mu.RLock()
	candidates := make([]ModelDescriptor, 0, len(r.catalog))
	for _, m := range r.catalog {
		if m.Purpose != purpose {
			continue
		}
		if excluded[m.ID] {
			continue
		}
		if !m.Tier.AtOrBelow(maxTier) {
			continue
		}
		if maxWeight > 0 && m.ApproximateWeight > maxWeight {
			continue
		}
		if !m.SupportsLanguage(hint.Language) {
			continue
		}
		candidates = append(candidates, m)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return ModelDescriptor{}, false
	}

	type scored struct {
		m    ModelDescriptor
		rate float64
		n    int
	}
	ranked := make([]scored, len(candidates))
	for i, m := range candidates {
		rate, n := r.perf.SuccessRate(m.ID, hint)
		ranked[i] = scored{m, rate, n}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].m.Priority != ranked[j].m.Priority {
			return ranked[i].m.Priority < ranked[j].m.Priority
		}
		// Tie on priority: historical success rate wins; models with no
		// history fall back to catalog order (stable sort preserves it).
		if ranked[i].n == 0 || ranked[j].n == 0 {
			return false
		}
		return ranked[i].rate > ranked[j].rate
	})

	return ranked[0].m, true
}

// Record writes a PerformanceRecord (spec §4.1 record(outcome)).
func (r *Registry) Record(rec PerformanceRecord) {
	r.perf.Record(rec)
}

// Aggregates exposes the performance store's rollups for the memory
// backend's getStats contract (spec §6.1).
func (r *Registry) Aggregates(taskType Purpose, language string) []Aggregate {
	return r.perf.Aggregates(taskType, language)
}

// Catalog returns a copy of the current catalog, for admin/status surfaces.
func (r *Registry) Catalog() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ModelDescriptor(nil), r.catalog...)
}
