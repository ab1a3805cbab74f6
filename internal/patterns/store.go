package patterns

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/icmemd/internal/tenant"
)

// OutcomeStore provides firm-scoped read access to historical outcomes.
// The matcher only ever reads; ingestion of outcomes happens elsewhere.
type OutcomeStore interface {
	// PassedOutcomes returns the firm's passed outcomes that carry a
	// documented rationale, newest first, optionally filtered by sector.
	PassedOutcomes(ctx context.Context, sector string, limit int) ([]HistoricalOutcome, error)
}

// MemoryOutcomeStore is an in-process OutcomeStore keyed by firm.
type MemoryOutcomeStore struct {
	mu       sync.RWMutex
	outcomes map[string][]HistoricalOutcome
}

// NewMemoryOutcomeStore creates an empty store.
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{outcomes: make(map[string][]HistoricalOutcome)}
}

// Add records an outcome for the context firm.
func (s *MemoryOutcomeStore) Add(ctx context.Context, outcome HistoricalOutcome) error {
	firm, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := firm.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[firm.FirmID] = append(s.outcomes[firm.FirmID], outcome)
	return nil
}

// PassedOutcomes returns the firm's documented passes, newest first.
func (s *MemoryOutcomeStore) PassedOutcomes(ctx context.Context, sector string, limit int) ([]HistoricalOutcome, error) {
	firm, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := firm.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var selected []HistoricalOutcome
	for _, o := range s.outcomes[firm.FirmID] {
		if o.Outcome != OutcomePassed || o.Rationale == "" {
			continue
		}
		if sector != "" && o.Sector != sector {
			continue
		}
		selected = append(selected, o)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].DecidedAt.After(selected[j].DecidedAt)
	})
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, nil
}

var _ OutcomeStore = (*MemoryOutcomeStore)(nil)
