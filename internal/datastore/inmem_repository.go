package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/your-org/adx-trend-bot/internal/ledger"
	"github.com/your-org/adx-trend-bot/internal/strategy"
)

// InMemRepository is an in-memory implementation of Store for tests and
// dry runs.
type InMemRepository struct {
	mu         sync.RWMutex
	strategies map[string]strategy.Strategy
	executions map[string]ledger.Execution
	dedupe     map[string]string
	status     map[string]string
	statusAt   time.Time
	runs       []OptimizationRun
	now        func() time.Time
}

var _ Store = (*InMemRepository)(nil)

// NewInMemRepository creates a new InMemRepository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		strategies: make(map[string]strategy.Strategy),
		executions: make(map[string]ledger.Execution),
		dedupe:     make(map[string]string),
		status:     make(map[string]string),
		now:        time.Now,
	}
}

// SeedStrategies allows adding strategies for test setup.
func (r *InMemRepository) SeedStrategies(strategies ...strategy.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range strategies {
		r.strategies[s.Symbol] = s
	}
}

// UpsertStrategy implements StrategyStore.
func (r *InMemRepository) UpsertStrategy(_ context.Context, s strategy.Strategy) error {
	if err := s.Params.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", s.Symbol, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.strategies[s.Symbol]; ok {
		s.Active = existing.Active
	}
	r.strategies[s.Symbol] = s
	return nil
}

// ActiveStrategies implements StrategyStore.
func (r *InMemRepository) ActiveStrategies(ctx context.Context) ([]strategy.Strategy, error) {
	all, _ := r.Strategies(ctx)
	out := all[:0]
	for _, s := range all {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

// Strategies implements StrategyStore.
func (r *InMemRepository) Strategies(_ context.Context) ([]strategy.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]strategy.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetStrategy implements StrategyStore.
func (r *InMemRepository) GetStrategy(_ context.Context, symbol string) (strategy.Strategy, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[symbol]
	return s, ok, nil
}

// SetStrategyActive implements StrategyStore.
func (r *InMemRepository) SetStrategyActive(_ context.Context, symbol string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.strategies[symbol]
	if !ok {
		return fmt.Errorf("strategy %s: %w", symbol, ErrNotFound)
	}
	s.Active = active
	r.strategies[symbol] = s
	return nil
}

// InsertExecution implements Ledger.
func (r *InMemRepository) InsertExecution(_ context.Context, e ledger.Execution) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[e.OrderID]; ok {
		return false, nil
	}
	if _, ok := r.dedupe[e.DedupeKey]; ok {
		return false, nil
	}
	if e.Status == "" {
		e.Status = ledger.StatusNew
	}
	e.SubmittedAt = e.SubmittedAt.UTC()
	r.executions[e.OrderID] = e
	r.dedupe[e.DedupeKey] = e.OrderID
	return true, nil
}

// ExecutionExists implements Ledger.
func (r *InMemRepository) ExecutionExists(_ context.Context, dedupeKey string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dedupe[dedupeKey]
	return ok, nil
}

// PendingExecutions implements Ledger.
func (r *InMemRepository) PendingExecutions(_ context.Context) ([]ledger.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.Execution
	for _, e := range r.executions {
		if e.Status == ledger.StatusNew {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// MarkFilled implements Ledger.
func (r *InMemRepository) MarkFilled(_ context.Context, orderID string, fill ledger.Fill) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[orderID]
	if !ok || e.Status != ledger.StatusNew {
		return false, nil
	}
	price := fill.Price
	at := fill.FilledAt.UTC()
	e.Status = ledger.StatusFilled
	e.FillPrice = &price
	e.FilledAt = &at
	e.SlippagePct = fill.SlippagePct
	e.FillLatencyMs = fill.LatencyMs
	r.executions[orderID] = e
	return true, nil
}

// MarkTerminal implements Ledger.
func (r *InMemRepository) MarkTerminal(_ context.Context, orderID string, status ledger.Status) (bool, error) {
	if err := checkTerminal(status); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[orderID]
	if !ok || e.Status != ledger.StatusNew {
		return false, nil
	}
	e.Status = status
	r.executions[orderID] = e
	return true, nil
}

// ListExecutions implements Ledger. Rows are newest first.
func (r *InMemRepository) ListExecutions(_ context.Context, f ExecutionFilter) ([]ledger.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.Execution
	for _, e := range r.executions {
		switch {
		case f.Symbol != "" && e.Symbol != f.Symbol:
			continue
		case f.Status != "" && e.Status != f.Status:
			continue
		case !f.Since.IsZero() && e.SubmittedAt.Before(f.Since):
			continue
		case !f.Until.IsZero() && !e.SubmittedAt.Before(f.Until):
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// AverageSlippage implements Ledger.
func (r *InMemRepository) AverageSlippage(_ context.Context, symbol string, since time.Time) (float64, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum float64
	var n int
	for _, e := range r.executions {
		if e.Status != ledger.StatusFilled || e.SlippagePct == nil || e.SubmittedAt.Before(since) {
			continue
		}
		if symbol != "" && e.Symbol != symbol {
			continue
		}
		sum += *e.SlippagePct
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

// EngineRunning implements StatusStore.
func (r *InMemRepository) EngineRunning(_ context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status[statusKeyEngineRunning] == "true", nil
}

// InitEngineRunning implements StatusStore.
func (r *InMemRepository) InitEngineRunning(_ context.Context, running bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.status[statusKeyEngineRunning]; !ok {
		r.status[statusKeyEngineRunning] = fmt.Sprint(running)
		r.statusAt = r.now().UTC()
	}
	return nil
}

// SetEngineRunning implements StatusStore.
func (r *InMemRepository) SetEngineRunning(_ context.Context, running bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[statusKeyEngineRunning] = fmt.Sprint(running)
	r.statusAt = r.now().UTC()
	return nil
}

// SetHealth implements StatusStore.
func (r *InMemRepository) SetHealth(_ context.Context, health string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[statusKeyHealth] = health
	r.statusAt = r.now().UTC()
	return nil
}

// SystemStatus implements StatusStore.
func (r *InMemRepository) SystemStatus(_ context.Context) (SystemStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return SystemStatus{
		EngineRunning: r.status[statusKeyEngineRunning] == "true",
		Health:        r.status[statusKeyHealth],
		UpdatedAt:     r.statusAt,
	}, nil
}

// RecordOptimizationRun implements RunStore.
func (r *InMemRepository) RecordOptimizationRun(_ context.Context, run OptimizationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

// OptimizationRuns implements RunStore. Rows are newest first.
func (r *InMemRepository) OptimizationRuns(_ context.Context, symbol string, limit int) ([]OptimizationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []OptimizationRun
	for i := len(r.runs) - 1; i >= 0; i-- {
		if symbol == "" || r.runs[i].Symbol == symbol {
			out = append(out, r.runs[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Clear clears all data from the in-memory repository.
func (r *InMemRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = make(map[string]strategy.Strategy)
	r.executions = make(map[string]ledger.Execution)
	r.dedupe = make(map[string]string)
	r.status = make(map[string]string)
	r.runs = nil
}

// Close implements Store.
func (r *InMemRepository) Close() error { return nil }
