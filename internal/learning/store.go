// File: internal/learning/store.go
// Description: Durable counters of which selector/strategy worked for a given
// action type. The orchestrator records successes here and asks for an
// optimized tier order before each cascade attempt.
package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// StrategyTier is an ordered group of candidate selectors tried together when
// attempting a UI action (next-page click, final submit).
type StrategyTier struct {
	Name      string   `json:"name"`
	Selectors []string `json:"selectors"`
}

// Record is the serializable learning state. Selectors counts successes per
// (actionType, selector); Tiers per (actionType, tierIndex); Errors is a
// histogram keyed "context|message".
type Record struct {
	Selectors map[string]map[string]int `json:"selectors"`
	Tiers     map[string]map[int]int    `json:"tiers"`
	Errors    map[string]int            `json:"errors"`
}

// NewRecord returns an empty, fully initialized record.
func NewRecord() Record {
	return Record{
		Selectors: make(map[string]map[string]int),
		Tiers:     make(map[string]map[int]int),
		Errors:    make(map[string]int),
	}
}

func (r Record) clone() Record {
	out := NewRecord()
	for action, sels := range r.Selectors {
		m := make(map[string]int, len(sels))
		for k, v := range sels {
			m[k] = v
		}
		out.Selectors[action] = m
	}
	for action, tiers := range r.Tiers {
		m := make(map[int]int, len(tiers))
		for k, v := range tiers {
			m[k] = v
		}
		out.Tiers[action] = m
	}
	for k, v := range r.Errors {
		out.Errors[k] = v
	}
	return out
}

// Persister loads and saves a Record against a durable backend.
type Persister interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// DefaultThreshold is the minimum recorded attempts for an action type before
// learned reordering replaces the default tier order.
const DefaultThreshold = 5

// confidenceCap: full confidence in a tier's success rate is only reached
// after this many observed successes. Guards against overfitting on little
// data.
const confidenceCap = 10

// Store owns the LearningRecord. All access is mutex-guarded; OptimizedOrder
// is pure and deterministic given the current record contents.
type Store struct {
	mu        sync.RWMutex
	rec       Record
	threshold int
	persister Persister
	logger    *zap.Logger
}

// NewStore creates a store backed by the given persister. A nil persister is
// valid and yields a memory-only store.
func NewStore(p Persister, threshold int, logger *zap.Logger) *Store {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Store{
		rec:       NewRecord(),
		threshold: threshold,
		persister: p,
		logger:    logger,
	}
}

// Load replaces the in-memory record with the persisted one. A missing or
// empty backend is not an error; the store simply starts cold.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	rec, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load learning record: %w", err)
	}
	if rec.Selectors == nil {
		rec.Selectors = make(map[string]map[string]int)
	}
	if rec.Tiers == nil {
		rec.Tiers = make(map[string]map[int]int)
	}
	if rec.Errors == nil {
		rec.Errors = make(map[string]int)
	}

	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()

	s.logger.Debug("Learning record loaded",
		zap.Int("action_types", len(rec.Selectors)))
	return nil
}

// Save persists a snapshot of the current record.
func (s *Store) Save(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snapshot := s.Snapshot()
	if err := s.persister.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save learning record: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current record.
func (s *Store) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.clone()
}

// RecordSuccess registers that a selector at the given tier index worked for
// an action type.
func (s *Store) RecordSuccess(actionType, selector string, tier int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sels := s.rec.Selectors[actionType]
	if sels == nil {
		sels = make(map[string]int)
		s.rec.Selectors[actionType] = sels
	}
	sels[selector]++

	tiers := s.rec.Tiers[actionType]
	if tiers == nil {
		tiers = make(map[int]int)
		s.rec.Tiers[actionType] = tiers
	}
	tiers[tier]++
}

// RecordFailure adds an entry to the error-pattern histogram.
func (s *Store) RecordFailure(context, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Errors[context+"|"+message]++
}

// SelectorSuccesses returns the success count for an (actionType, selector)
// pair.
func (s *Store) SelectorSuccesses(actionType, selector string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Selectors[actionType][selector]
}

// TierSuccesses returns the success count for an (actionType, tier) pair.
func (s *Store) TierSuccesses(actionType string, tier int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Tiers[actionType][tier]
}

// OptimizedOrder re-ranks the default tiers by learned effectiveness. Until
// total recorded attempts for the action type exceed the threshold, the
// defaults are returned untouched. Tiers are scored successRate*confidence
// where confidence = min(1, successes/10); ties keep default order.
func (s *Store) OptimizedOrder(actionType string, defaults []StrategyTier) []StrategyTier {
	out := make([]StrategyTier, len(defaults))
	copy(out, defaults)

	s.mu.RLock()
	tiers := s.rec.Tiers[actionType]
	total := 0
	for _, n := range tiers {
		total += n
	}
	scores := make([]float64, len(defaults))
	if total > s.threshold {
		for i := range defaults {
			successes := float64(tiers[i])
			rate := successes / float64(total)
			confidence := successes / confidenceCap
			if confidence > 1 {
				confidence = 1
			}
			scores[i] = rate * confidence
		}
	}
	s.mu.RUnlock()

	if total <= s.threshold {
		return out
	}

	// Stable sort preserves default order among equal scores.
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	ranked := make([]StrategyTier, len(out))
	for i, j := range idx {
		ranked[i] = out[j]
	}
	return ranked
}

// Summary aggregates counters for the stats surface.
type Summary struct {
	ActionTypes    int `json:"action_types"`
	TotalSuccesses int `json:"total_successes"`
	ErrorPatterns  int `json:"error_patterns"`
}

// Stats summarizes the record for reporting.
func (s *Store) Stats() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, sels := range s.rec.Selectors {
		for _, n := range sels {
			total += n
		}
	}
	return Summary{
		ActionTypes:    len(s.rec.Selectors),
		TotalSuccesses: total,
		ErrorPatterns:  len(s.rec.Errors),
	}
}
