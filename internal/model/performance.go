package model

import (
	"sort"
	"sync"
)

// PerformanceStore is the Learning Feedback Channel's append-only record of
// outcomes (spec §2 item 9). Spec §5 requires it to be the only cross-job
// writable resource and safe under concurrent writes; a mutex-guarded slice
// satisfies that without a database dependency, mirroring
// the teacher's in-memory fallback store pattern (core.InMemoryStore).
type PerformanceStore struct {
	mu      sync.RWMutex
	records []PerformanceRecord
}

// NewPerformanceStore builds an empty store.
func NewPerformanceStore() *PerformanceStore {
	return &PerformanceStore{}
}

// Record appends rec. It never fails: the Learning Feedback Channel is
// best-effort and must not block a job on a bookkeeping write.
func (s *PerformanceStore) Record(rec PerformanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// SuccessRate computes the historical success rate for model against hint,
// matching on language and complexity, and weighting keyword overlap. It
// returns (rate, sampleSize); sampleSize == 0 means no historical data, in
// which case the Selector must fall back to priority-only ordering.
func (s *PerformanceStore) SuccessRate(modelID string, hint Hint) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []PerformanceRecord
	for _, r := range s.records {
		if r.Model != modelID {
			continue
		}
		if hint.Language != "" && r.Language != "" && r.Language != hint.Language {
			continue
		}
		if hint.Complexity != "" && r.Complexity != "" && r.Complexity != hint.Complexity {
			continue
		}
		matched = append(matched, r)
	}
	if len(matched) == 0 {
		return 0, 0
	}

	// Weight records that also share keywords with the hint more heavily,
	// so a model proven on "parser" tasks outranks one only proven on
	// unrelated work of the same language/complexity.
	var weightedSuccess, weightedTotal float64
	for _, r := range matched {
		w := 1.0 + float64(keywordOverlap(r.TaskKeywords, hint.Keywords))
		weightedTotal += w
		if r.Outcome == OutcomeSuccess {
			weightedSuccess += w
		} else if r.Outcome == OutcomePartial {
			weightedSuccess += w * 0.5
		}
	}
	if weightedTotal == 0 {
		return 0, len(matched)
	}
	return weightedSuccess / weightedTotal, len(matched)
}

func keywordOverlap(a, b []string) int {
	set := make(map[string]struct{}, len(b))
	for _, k := range b {
		set[k] = struct{}{}
	}
	n := 0
	for _, k := range a {
		if _, ok := set[k]; ok {
			n++
		}
	}
	return n
}

// Aggregate is a per-(taskType, language) rollup, grounded on the teacher's
// memory backend's getStats contract (spec §6.1).
type Aggregate struct {
	TaskType   Purpose
	Language   string
	Count      int
	AvgScore   float64
	SuccessPct float64
}

// Aggregates summarizes stored records, optionally filtered by taskType
// and/or language (empty string means "any").
func (s *PerformanceStore) Aggregates(taskType Purpose, language string) []Aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		t Purpose
		l string
	}
	bucket := map[key]*Aggregate{}
	for _, r := range s.records {
		if taskType != "" && r.TaskType != taskType {
			continue
		}
		if language != "" && r.Language != language {
			continue
		}
		k := key{r.TaskType, r.Language}
		a, ok := bucket[k]
		if !ok {
			a = &Aggregate{TaskType: r.TaskType, Language: r.Language}
			bucket[k] = a
		}
		a.Count++
		a.AvgScore += r.Score
		if r.Outcome == OutcomeSuccess {
			a.SuccessPct++
		}
	}
	out := make([]Aggregate, 0, len(bucket))
	for _, a := range bucket {
		if a.Count > 0 {
			a.AvgScore /= float64(a.Count)
			a.SuccessPct = a.SuccessPct / float64(a.Count) * 100
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskType != out[j].TaskType {
			return out[i].TaskType < out[j].TaskType
		}
		return out[i].Language < out[j].Language
	})
	return out
}
