package usecase

import (
	"fmt"
	"sync"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

// SignalSink receives persisted signals and closed signals. Implementations must
// not block: they queue or drop internally.
type SignalSink interface {
	Name() string
	OnSignal(s *models.Signal)
	OnOutcome(s *models.Signal)
}

// OutcomeListener observes closed signals once the sinks have been handed them.
type OutcomeListener interface {
	OnOutcome(s *models.Signal)
}

// Distributor multicasts every persisted signal to its sinks concurrently.
// Each sink gets its own copy and a panic in one is contained.
type Distributor struct {
	sinks   []SignalSink
	metrics domrepo.Metrics
	log     *logger.Logger

	mu        sync.RWMutex
	listeners []OutcomeListener
}

func NewDistributor(metrics domrepo.Metrics, log *logger.Logger, sinks ...SignalSink) *Distributor {
	return &Distributor{sinks: sinks, metrics: metrics, log: log}
}

func (d *Distributor) Distribute(s *models.Signal) {
	d.fanout(s, "signal", SignalSink.OnSignal)
}

// AddOutcomeListener registers l for every DistributeOutcome call.
func (d *Distributor) AddOutcomeListener(l OutcomeListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

func (d *Distributor) DistributeOutcome(s *models.Signal) {
	d.fanout(s, "outcome", SignalSink.OnOutcome)

	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()
	for _, l := range listeners {
		d.notifyListener(l, s.Clone())
	}
}

func (d *Distributor) notifyListener(l OutcomeListener, s *models.Signal) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordError("outcome_listener")
			d.log.Error("outcome listener panicked",
				logger.String("signal_id", s.ID),
				logger.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l.OnOutcome(s)
}

func (d *Distributor) fanout(s *models.Signal, what string, deliver func(SignalSink, *models.Signal)) {
	var wg sync.WaitGroup
	for _, sink := range d.sinks {
		wg.Add(1)
		go func(sink SignalSink, s *models.Signal) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.metrics.RecordError("fanout_" + sink.Name())
					d.log.Error("sink panicked",
						logger.String("sink", sink.Name()),
						logger.String("kind", what),
						logger.String("signal_id", s.ID),
						logger.String("panic", fmt.Sprint(r)),
					)
				}
			}()
			deliver(sink, s)
		}(sink, s.Clone())
	}
	wg.Wait()
}
