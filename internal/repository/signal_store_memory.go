package repository

import (
	"context"
	"sort"
	"sync"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
)

// MemorySignalStore keeps signals in process with the same semantics as the Postgres store.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals map[string]*models.Signal
}

func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{signals: make(map[string]*models.Signal)}
}

var _ domrepo.SignalStore = (*MemorySignalStore)(nil)

func (s *MemorySignalStore) Record(ctx context.Context, sig *models.Signal) (*models.Signal, error) {
	if sig == nil || sig.ID == "" || sig.Symbol == "" || !sig.Direction.Valid() {
		return nil, domrepo.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; ok {
		return nil, domrepo.ErrDuplicateKey
	}
	stored := sig.Clone()
	stored.Outcome, stored.ClosedAt, stored.ClosePrice, stored.ReturnPct = nil, nil, nil, nil
	s.signals[sig.ID] = stored
	return sig, nil
}

func (s *MemorySignalStore) UpdateOutcome(ctx context.Context, id string, u models.OutcomeUpdate) (bool, error) {
	if !u.Outcome.Valid() {
		return false, domrepo.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return false, domrepo.ErrNotFound
	}
	if !sig.IsOpen() {
		return false, nil
	}
	sig.Apply(u)
	return true, nil
}

func (s *MemorySignalStore) Get(_ context.Context, id string) (*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return sig.Clone(), nil
}

func (s *MemorySignalStore) List(_ context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	s.mu.RLock()
	var out []*models.Signal
	for _, sig := range s.signals {
		if f.Symbol != "" && sig.Symbol != f.Symbol {
			continue
		}
		if f.OpenOnly && !sig.IsOpen() {
			continue
		}
		if !f.OpenOnly && f.Outcome != nil && (sig.Outcome == nil || *sig.Outcome != *f.Outcome) {
			continue
		}
		out = append(out, sig.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemorySignalStore) ListOpen(_ context.Context) ([]*models.Signal, error) {
	s.mu.RLock()
	var out []*models.Signal
	for _, sig := range s.signals {
		if sig.IsOpen() {
			out = append(out, sig.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemorySignalStore) Stats(_ context.Context, f models.StatsFilter) (*models.SignalStats, error) {
	acc := newStatsAcc(f.Symbol)
	s.mu.RLock()
	for _, sig := range s.signals {
		if matchStats(sig, f) {
			acc.add(sig)
		}
	}
	s.mu.RUnlock()
	return acc.result(), nil
}

func (s *MemorySignalStore) StatsBySymbol(_ context.Context, f models.StatsFilter) ([]*models.SignalStats, error) {
	bySym := make(map[string]*statsAcc)
	s.mu.RLock()
	for _, sig := range s.signals {
		if !matchStats(sig, f) {
			continue
		}
		acc, ok := bySym[sig.Symbol]
		if !ok {
			acc = newStatsAcc(sig.Symbol)
			bySym[sig.Symbol] = acc
		}
		acc.add(sig)
	}
	s.mu.RUnlock()

	out := make([]*models.SignalStats, 0, len(bySym))
	for _, acc := range bySym {
		out = append(out, acc.result())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total == out[j].Total {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Total > out[j].Total
	})
	return out, nil
}

func (s *MemorySignalStore) Health(context.Context) error { return nil }

func (s *MemorySignalStore) Close() error { return nil }

func matchStats(sig *models.Signal, f models.StatsFilter) bool {
	if f.Symbol != "" && sig.Symbol != f.Symbol {
		return false
	}
	return f.Since.IsZero() || !sig.CreatedAt.Before(f.Since)
}

type statsAcc struct {
	st                   models.SignalStats
	sumRet, sumDur, sumS float64
	durN                 int
}

func newStatsAcc(symbol string) *statsAcc {
	return &statsAcc{st: models.SignalStats{Symbol: symbol}}
}

func (a *statsAcc) add(sig *models.Signal) {
	a.st.Total++
	a.sumS += sig.Score
	if sig.Direction == models.Long {
		a.st.Longs++
	} else {
		a.st.Shorts++
	}
	if sig.Outcome == nil {
		a.st.Open++
		return
	}
	switch *sig.Outcome {
	case models.OutcomeTPHit:
		a.st.Wins++
	case models.OutcomeSLHit:
		a.st.Losses++
	case models.OutcomeExpired:
		a.st.Expired++
	case models.OutcomeManual:
		a.st.Manual++
	case models.OutcomeReversed:
		a.st.Reversed++
	}
	if sig.ReturnPct != nil {
		a.sumRet += *sig.ReturnPct
	}
	if sig.ClosedAt != nil {
		a.sumDur += sig.Duration().Seconds()
		a.durN++
	}
}

func (a *statsAcc) result() *models.SignalStats {
	st := a.st
	if st.Total > 0 {
		st.AvgScore = a.sumS / float64(st.Total)
	}
	if closed := st.Total - st.Open; closed > 0 {
		st.AvgReturnPct = a.sumRet / float64(closed)
	}
	if a.durN > 0 {
		st.AvgDurationSec = a.sumDur / float64(a.durN)
	}
	finishStats(&st)
	return &st
}
