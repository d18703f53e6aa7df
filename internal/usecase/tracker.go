package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

// OutcomeDistributor announces closed signals.
type OutcomeDistributor interface {
	DistributeOutcome(s *models.Signal)
}

type TrackerConfig struct {
	PollInterval time.Duration
	TTL          time.Duration
	WriteTimeout time.Duration
	PriceTimeout time.Duration
}

type trackedSignal struct {
	sig       *models.Signal
	lastPrice float64
	observed  bool
}

// LifecycleTracker follows every open signal to exactly one terminal outcome.
// It is the only writer of outcomes.
type LifecycleTracker struct {
	cfg     TrackerConfig
	store   domrepo.SignalStore
	prices  domrepo.PriceSource
	dist    OutcomeDistributor
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu   sync.Mutex
	open map[string]*trackedSignal

	// serialises outcome writes
	closeMu sync.Mutex
}

func NewLifecycleTracker(cfg TrackerConfig, store domrepo.SignalStore, prices domrepo.PriceSource, dist OutcomeDistributor, metrics domrepo.Metrics, log *logger.Logger) *LifecycleTracker {
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = cfg.PollInterval
	}
	return &LifecycleTracker{
		cfg:     cfg,
		store:   store,
		prices:  prices,
		dist:    dist,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		open:    make(map[string]*trackedSignal),
	}
}

// SetClock overrides time.Now.
func (t *LifecycleTracker) SetClock(now func() time.Time) { t.now = now }

// SetDistributor wires the outcome sink after construction.
func (t *LifecycleTracker) SetDistributor(d OutcomeDistributor) { t.dist = d }

// Register starts tracking s. Any open signal on the same symbol in the opposite
// direction is closed as reversed at the new entry price.
func (t *LifecycleTracker) Register(ctx context.Context, s *models.Signal) {
	t.mu.Lock()
	var reversed []*models.Signal
	for _, tr := range t.open {
		if tr.sig.Symbol == s.Symbol && tr.sig.Direction != s.Direction {
			reversed = append(reversed, tr.sig)
		}
	}
	t.open[s.ID] = &trackedSignal{sig: s.Clone()}
	depth := len(t.open)
	t.mu.Unlock()

	t.metrics.RecordQueueDepth("open_signals", depth)
	for _, old := range reversed {
		if _, err := t.close(ctx, old, models.OutcomeReversed, s.EntryPrice); err != nil {
			t.log.Warn("reverse close failed", logger.String("signal_id", old.ID), logger.Error(err))
		}
	}
}

// HasOpen reports whether symbol has an open signal in direction dir.
func (t *LifecycleTracker) HasOpen(symbol string, dir models.Direction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.open {
		if tr.sig.Symbol == symbol && tr.sig.Direction == dir {
			return true
		}
	}
	return false
}

// RestoreOpen reloads open signals from the store. Ones already past their TTL
// expire on the first sweep.
func (t *LifecycleTracker) RestoreOpen(ctx context.Context) (int, error) {
	sigs, err := t.store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore open signals: %w", err)
	}
	t.mu.Lock()
	for _, s := range sigs {
		if _, ok := t.open[s.ID]; !ok {
			t.open[s.ID] = &trackedSignal{sig: s}
		}
	}
	depth := len(t.open)
	t.mu.Unlock()

	t.metrics.RecordQueueDepth("open_signals", depth)
	t.log.Info("restored open signals", logger.Int("count", len(sigs)))
	return len(sigs), nil
}

// Run sweeps open signals every poll interval until ctx is done.
func (t *LifecycleTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.log.Info("lifecycle tracker started",
		logger.Duration("poll_ms", t.cfg.PollInterval),
		logger.Duration("ttl_ms", t.cfg.TTL),
	)
	for {
		select {
		case <-ctx.Done():
			t.log.Info("lifecycle tracker stopped")
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep checks every open signal once: target and stop first, then TTL.
func (t *LifecycleTracker) Sweep(ctx context.Context) {
	t.mu.Lock()
	batch := make([]*trackedSignal, 0, len(t.open))
	for _, tr := range t.open {
		batch = append(batch, tr)
	}
	t.mu.Unlock()

	for _, tr := range batch {
		if ctx.Err() != nil {
			return
		}
		t.check(ctx, tr)
	}
}

func (t *LifecycleTracker) check(ctx context.Context, tr *trackedSignal) {
	sig := tr.sig

	pctx, cancel := context.WithTimeout(ctx, t.cfg.PriceTimeout)
	price, err := t.prices.Price(pctx, sig.Symbol)
	cancel()

	if err == nil && price > 0 {
		t.mu.Lock()
		tr.lastPrice, tr.observed = price, true
		t.mu.Unlock()
		t.metrics.RecordLastPrice(sig.Symbol, price)

		switch {
		case models.HitTarget(sig.Direction, price, sig.TargetPrice):
			t.closeLogged(ctx, sig, models.OutcomeTPHit, price)
			return
		case models.HitStop(sig.Direction, price, sig.StopPrice):
			t.closeLogged(ctx, sig, models.OutcomeSLHit, price)
			return
		}
	} else if err != nil {
		t.metrics.RecordError("tracker_price")
		t.log.Debug("price unavailable", logger.String("symbol", sig.Symbol), logger.Error(err))
	}

	if t.now().Sub(sig.CreatedAt) > t.cfg.TTL {
		t.mu.Lock()
		last, observed := tr.lastPrice, tr.observed
		t.mu.Unlock()
		if !observed {
			last = sig.EntryPrice
		}
		t.closeLogged(ctx, sig, models.OutcomeExpired, last)
	}
}

func (t *LifecycleTracker) closeLogged(ctx context.Context, sig *models.Signal, outcome models.Outcome, price float64) {
	if _, err := t.close(ctx, sig, outcome, price); err != nil {
		t.log.Warn("outcome write failed, will retry",
			logger.String("signal_id", sig.ID),
			logger.String("outcome", string(outcome)),
			logger.Error(err),
		)
	}
}

// close writes the outcome once. It returns the closed signal when this call
// applied the transition, nil when another write got there first.
func (t *LifecycleTracker) close(ctx context.Context, sig *models.Signal, outcome models.Outcome, price float64) (*models.Signal, error) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	u := models.OutcomeUpdate{
		Outcome:    outcome,
		ClosedAt:   t.now(),
		ClosePrice: price,
		ReturnPct:  round(models.ReturnPct(sig.Direction, sig.EntryPrice, price), 4),
	}

	wctx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
	applied, err := t.store.UpdateOutcome(wctx, sig.ID, u)
	cancel()
	if err != nil {
		t.metrics.RecordError("outcome_write")
		if errors.Is(err, domrepo.ErrNotFound) {
			t.untrack(sig.ID)
		}
		return nil, err
	}

	t.untrack(sig.ID)
	if !applied {
		t.log.Debug("outcome already recorded", logger.String("signal_id", sig.ID))
		return nil, nil
	}

	closed := sig.Clone()
	closed.Apply(u)
	if t.dist != nil {
		t.dist.DistributeOutcome(closed)
	}
	t.metrics.RecordOutcome(sig.Symbol, outcome, u.ReturnPct)
	t.log.Info("signal closed",
		logger.String("signal_id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("outcome", string(outcome)),
		logger.Float64("close_price", price),
		logger.Float64("return_pct", u.ReturnPct),
		logger.Duration("duration_ms", closed.Duration()),
	)
	return closed, nil
}

func (t *LifecycleTracker) untrack(id string) {
	t.mu.Lock()
	delete(t.open, id)
	depth := len(t.open)
	t.mu.Unlock()
	t.metrics.RecordQueueDepth("open_signals", depth)
}

// ErrAlreadyClosed is returned by CloseManual for a signal that already has an outcome.
var ErrAlreadyClosed = errors.New("signal already closed")

// CloseManual closes a signal administratively. A non-positive price means
// "use the latest price", falling back to the last observed price, then entry.
func (t *LifecycleTracker) CloseManual(ctx context.Context, id string, price float64) (*models.Signal, error) {
	t.mu.Lock()
	tr, ok := t.open[id]
	var sig *models.Signal
	var last float64
	if ok {
		sig, last = tr.sig, tr.lastPrice
	}
	t.mu.Unlock()

	if !ok {
		stored, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !stored.IsOpen() {
			return stored, ErrAlreadyClosed
		}
		sig = stored
	}

	if price <= 0 {
		pctx, cancel := context.WithTimeout(ctx, t.cfg.PriceTimeout)
		p, err := t.prices.Price(pctx, sig.Symbol)
		cancel()
		switch {
		case err == nil && p > 0:
			price = p
		case last > 0:
			price = last
		default:
			price = sig.EntryPrice
		}
	}

	closed, err := t.close(ctx, sig, models.OutcomeManual, price)
	if err != nil {
		return nil, err
	}
	if closed == nil {
		stored, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return stored, ErrAlreadyClosed
	}
	return closed, nil
}

// OpenSignals lists tracked signals with their last observed price, newest first.
func (t *LifecycleTracker) OpenSignals() []models.OpenSignalView {
	now := t.now()
	t.mu.Lock()
	out := make([]models.OpenSignalView, 0, len(t.open))
	for _, tr := range t.open {
		v := models.OpenSignalView{
			Signal: tr.sig.Clone(),
			AgeSec: now.Sub(tr.sig.CreatedAt).Seconds(),
		}
		if tr.observed {
			v.CurrentPrice = tr.lastPrice
			v.UnrealizedPct = round(models.ReturnPct(tr.sig.Direction, tr.sig.EntryPrice, tr.lastPrice), 4)
		}
		out = append(out, v)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Signal.CreatedAt.After(out[j].Signal.CreatedAt) })
	return out
}

func (t *LifecycleTracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
