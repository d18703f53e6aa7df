package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

// EventSource is the consumer side of the event queue.
type EventSource interface {
	Ready() <-chan struct{}
	TryPop() (models.Event, bool)
	Closed() bool
}

// AlignmentChecker computes multi-timeframe agreement for a symbol.
type AlignmentChecker interface {
	Check(ctx context.Context, symbol string) (models.MTFResult, error)
}

// SignalTracker is the lifecycle tracker as seen by the scorer.
type SignalTracker interface {
	Register(ctx context.Context, s *models.Signal)
	HasOpen(symbol string, dir models.Direction) bool
}

// SignalDistributor hands a persisted signal to the downstream sinks.
type SignalDistributor interface {
	Distribute(s *models.Signal)
}

type ScorerConfig struct {
	Threshold          float64
	Cooldown           time.Duration
	BufferTTL          time.Duration
	ReevaluateInterval time.Duration
	PersistTimeout     time.Duration
	ReadTimeout        time.Duration
	TPMultiplier       float64
	SLMultiplier       float64
	MTFEnabled         bool
	Weights            models.Weights
}

// Rejection reasons reported to metrics.
const (
	rejectCooldown   = "cooldown"
	rejectThreshold  = "threshold"
	rejectOpen       = "open_same_direction"
	rejectMTF        = "mtf"
	rejectNoFeatures = "no_features"
	rejectNoPrice    = "no_price"
	rejectNoATR      = "no_atr"
	rejectPersist    = "persist_failed"
)

// ErrPersist wraps a store failure that aborted an emission.
var ErrPersist = errors.New("signal persistence failed")

// SignalScorer buffers events per symbol and turns qualifying evaluations into signals.
// A signal is committed to the store before the tracker or any sink sees it.
type SignalScorer struct {
	cfg      ScorerConfig
	features domrepo.FeatureSource
	mtf      AlignmentChecker
	prices   domrepo.PriceSource
	store    domrepo.SignalStore
	tracker  SignalTracker
	dist     SignalDistributor
	cache    domrepo.SignalCache
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	buffers  map[string][]models.Event
	lastEmit map[string]time.Time
}

func NewSignalScorer(
	cfg ScorerConfig,
	features domrepo.FeatureSource,
	mtf AlignmentChecker,
	prices domrepo.PriceSource,
	store domrepo.SignalStore,
	tracker SignalTracker,
	dist SignalDistributor,
	cache domrepo.SignalCache,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *SignalScorer {
	if cfg.Weights == (models.Weights{}) {
		cfg.Weights = models.DefaultWeights
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &SignalScorer{
		cfg:      cfg,
		features: features,
		mtf:      mtf,
		prices:   prices,
		store:    store,
		tracker:  tracker,
		dist:     dist,
		cache:    cache,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		buffers:  make(map[string][]models.Event),
		lastEmit: make(map[string]time.Time),
	}
}

// SetClock overrides time.Now.
func (s *SignalScorer) SetClock(now func() time.Time) { s.now = now }

// Run consumes src until it is closed and drained, or ctx is done. It is the only
// consumer, which keeps per-symbol ordering.
func (s *SignalScorer) Run(ctx context.Context, src EventSource) {
	ticker := time.NewTicker(s.cfg.ReevaluateInterval)
	defer ticker.Stop()

	s.log.Info("signal scorer started", logger.Float64("threshold", s.cfg.Threshold))
	for {
		s.drain(ctx, src)
		if src.Closed() {
			s.drain(ctx, src)
			s.log.Info("signal scorer drained and stopped")
			return
		}
		select {
		case <-ctx.Done():
			s.log.Info("signal scorer stopped")
			return
		case <-src.Ready():
		case <-ticker.C:
			s.Reevaluate(ctx)
		}
	}
}

func (s *SignalScorer) drain(ctx context.Context, src EventSource) {
	for ctx.Err() == nil {
		ev, ok := src.TryPop()
		if !ok {
			return
		}
		if _, err := s.HandleEvent(ctx, ev); err != nil {
			s.log.Warn("evaluation failed", logger.String("symbol", ev.Symbol), logger.Error(err))
		}
	}
}

// HandleEvent buffers ev and evaluates its symbol.
func (s *SignalScorer) HandleEvent(ctx context.Context, ev models.Event) (*models.Signal, error) {
	now := s.now()
	s.mu.Lock()
	buf := pruneStale(s.buffers[ev.Symbol], now, s.cfg.BufferTTL)
	s.buffers[ev.Symbol] = append(buf, ev)
	s.mu.Unlock()

	return s.Evaluate(ctx, ev.Symbol)
}

// Reevaluate drops stale buffers and evaluates every symbol that still has events.
func (s *SignalScorer) Reevaluate(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	symbols := make([]string, 0, len(s.buffers))
	for sym, buf := range s.buffers {
		buf = pruneStale(buf, now, s.cfg.BufferTTL)
		if len(buf) == 0 {
			delete(s.buffers, sym)
			continue
		}
		s.buffers[sym] = buf
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	sort.Strings(symbols)
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Evaluate(ctx, sym); err != nil {
			s.log.Warn("re-evaluation failed", logger.String("symbol", sym), logger.Error(err))
		}
	}
}

// Evaluate scores the buffered events for symbol and emits a signal if every gate passes.
// It returns nil, nil when a gate rejects the evaluation.
func (s *SignalScorer) Evaluate(ctx context.Context, symbol string) (*models.Signal, error) {
	now := s.now()

	s.mu.Lock()
	events := append([]models.Event(nil), s.buffers[symbol]...)
	last, cooling := s.lastEmit[symbol]
	s.mu.Unlock()

	if len(events) == 0 {
		return nil, nil
	}
	if cooling && now.Sub(last) < s.cfg.Cooldown {
		s.metrics.RecordSignalRejected(rejectCooldown)
		return nil, nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	snap, err := s.features.Snapshot(rctx, symbol)
	cancel()
	if err != nil {
		s.metrics.RecordSignalRejected(rejectNoFeatures)
		return nil, fmt.Errorf("features %s: %w", symbol, err)
	}

	res := ComputeScore(snap, events, s.cfg.Weights)
	if res.Score < s.cfg.Threshold {
		s.metrics.RecordSignalRejected(rejectThreshold)
		s.log.Debug("score below threshold",
			logger.String("symbol", symbol),
			logger.Float64("score", res.Score),
		)
		return nil, nil
	}

	if s.tracker != nil && s.tracker.HasOpen(symbol, res.Direction) {
		s.metrics.RecordSignalRejected(rejectOpen)
		return nil, nil
	}

	var mtf *models.MTFResult
	if s.cfg.MTFEnabled && s.mtf != nil {
		r, err := s.mtf.Check(ctx, symbol)
		if err != nil {
			s.metrics.RecordSignalRejected(rejectMTF)
			return nil, err
		}
		if !r.Aligned || r.Direction != res.Direction {
			s.metrics.RecordSignalRejected(rejectMTF)
			s.log.Debug("timeframes not aligned",
				logger.String("symbol", symbol),
				logger.String("direction", string(res.Direction)),
				logger.Int("aligned", r.Count),
				logger.Int("total", r.Total),
			)
			return nil, nil
		}
		mtf = &r
	}

	entry := s.entryPrice(ctx, symbol, snap)
	if entry <= 0 {
		s.metrics.RecordSignalRejected(rejectNoPrice)
		return nil, nil
	}
	if snap.ATR <= 0 {
		s.metrics.RecordSignalRejected(rejectNoATR)
		return nil, nil
	}

	tp, sl := models.Levels(res.Direction, entry, snap.ATR, s.cfg.TPMultiplier, s.cfg.SLMultiplier)
	sig := &models.Signal{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Direction:     res.Direction,
		Score:         round(res.Score, 4),
		EntryPrice:    round(entry, 8),
		TargetPrice:   round(tp, 8),
		StopPrice:     round(sl, 8),
		ATR:           snap.ATR,
		Components:    res.Components,
		Votes:         res.Votes,
		TriggerEvents: uniqueKinds(events),
		MTF:           mtf,
		CreatedAt:     now,
	}
	if mtf != nil {
		sig.MTFScore = round(mtf.Score, 4)
	}

	saved, err := s.persist(ctx, sig)
	if err != nil {
		s.metrics.RecordSignalRejected(rejectPersist)
		s.metrics.RecordError("signal_persist")
		s.log.Error("signal not emitted, persistence failed",
			logger.String("symbol", symbol),
			logger.String("signal_id", sig.ID),
			logger.Error(err),
		)
		return nil, err
	}

	s.mu.Lock()
	s.lastEmit[symbol] = now
	delete(s.buffers, symbol)
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Register(ctx, saved)
	}
	if s.cache != nil {
		if err := s.cache.PutLatest(ctx, saved); err != nil {
			s.log.Warn("latest signal cache write failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}
	s.dist.Distribute(saved)

	s.metrics.RecordSignal(symbol, saved.Direction, saved.Score)
	s.log.Info("signal emitted",
		logger.String("signal_id", saved.ID),
		logger.String("symbol", symbol),
		logger.String("direction", string(saved.Direction)),
		logger.Float64("score", saved.Score),
		logger.Float64("entry", saved.EntryPrice),
		logger.Float64("tp", saved.TargetPrice),
		logger.Float64("sl", saved.StopPrice),
	)
	return saved, nil
}

func (s *SignalScorer) persist(ctx context.Context, sig *models.Signal) (*models.Signal, error) {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	saved, err := s.store.Record(pctx, sig)
	s.metrics.RecordLatency("signal_persist", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if saved == nil {
		saved = sig
	}
	return saved, nil
}

func (s *SignalScorer) entryPrice(ctx context.Context, symbol string, snap *models.FeatureSnapshot) float64 {
	if s.prices != nil {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		p, err := s.prices.Price(pctx, symbol)
		cancel()
		if err == nil && p > 0 {
			return p
		}
		if err != nil {
			s.log.Debug("price source failed, using snapshot price", logger.String("symbol", symbol), logger.Error(err))
		}
	}
	return snap.Price()
}

func pruneStale(buf []models.Event, now time.Time, ttl time.Duration) []models.Event {
	if len(buf) == 0 {
		return buf
	}
	// a buffer lives while its newest event is fresh
	if now.Sub(buf[len(buf)-1].Timestamp) > ttl {
		return nil
	}
	return buf
}

func uniqueKinds(events []models.Event) []models.EventKind {
	seen := make(map[models.EventKind]struct{}, len(events))
	out := make([]models.EventKind, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.Kind]; ok {
			continue
		}
		seen[e.Kind] = struct{}{}
		out = append(out, e.Kind)
	}
	return out
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
