package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalFlow/internal/middleware"
	"SignalFlow/internal/service/broadcast"
	"SignalFlow/internal/service/notifier"
	"SignalFlow/internal/service/pricefeed"
	"SignalFlow/internal/usecase"
	"SignalFlow/pkg/config"
	xhttp "SignalFlow/pkg/http"
	pkgkafka "SignalFlow/pkg/kafka"
	applogger "SignalFlow/pkg/logger"
)

// Closer is an infrastructure client released after every worker has stopped.
type Closer struct {
	Name  string
	Close func() error
}

// Components groups everything App runs. Consumer and EventsHandler are nil
// unless the Kafka events consumer is enabled; PriceStream is nil unless the
// mark price stream is enabled.
type Components struct {
	Queue         *middleware.EventQueue
	Detector      *usecase.EventDetector
	Scorer        *usecase.SignalScorer
	Tracker       *usecase.LifecycleTracker
	Notifier      *notifier.Notifier
	Hub           *broadcast.Hub
	Recorder      *usecase.EventRecorder
	PriceStream   *pricefeed.StreamSource
	Consumer      *pkgkafka.Consumer
	EventsHandler pkgkafka.MessageHandler
	HTTP          *xhttp.Server
	Closers       []Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	c   Components
}

func New(cfg *config.Config, log *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, log: log, c: c}
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startWorker(parent context.Context, run func(ctx context.Context)) worker {
	ctx, cancel := context.WithCancel(parent)
	w := worker{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		run(ctx)
	}()
	return w
}

// wait blocks until the worker returns or ctx is done. It reports whether the worker finished.
func (w worker) wait(ctx context.Context) bool {
	select {
	case <-w.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run starts every worker and blocks until ctx is cancelled or the HTTP server fails,
// then shuts down in pipeline order.
func (a *App) Run(ctx context.Context) error {
	c := a.c
	bg := context.Background()

	restoreCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	n, err := c.Tracker.RestoreOpen(restoreCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("restore open signals: %w", err)
	}
	a.log.Info("open signals restored", applogger.Int("count", n))

	c.Recorder.Start(bg)
	var stream worker
	if c.PriceStream != nil {
		stream = startWorker(bg, c.PriceStream.Run)
	}
	c.Notifier.Start()
	hub := startWorker(bg, c.Hub.Run)
	tracker := startWorker(bg, c.Tracker.Run)
	scorer := startWorker(bg, func(ctx context.Context) { c.Scorer.Run(ctx, c.Queue) })
	detector := startWorker(bg, c.Detector.Run)

	if c.Consumer != nil && c.EventsHandler != nil {
		c.Consumer.RegisterHandler(c.EventsHandler)
		c.Consumer.WithConsumerHook(pkgkafka.TraceHook(a.log, 500*time.Millisecond))
		if err := c.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer start", applogger.Error(err))
		}
	}

	if err := c.HTTP.Start(); err != nil {
		return err
	}
	a.log.Info("signalflow running",
		applogger.Strings("symbols", a.cfg.Symbols),
		applogger.String("event_log", a.cfg.EventLog.Backend),
		applogger.Float64("threshold", a.cfg.Scorer.Threshold),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-c.HTTP.Errors():
		a.log.Error("http server failed, shutting down", applogger.Error(runErr))
	}

	a.shutdown(detector, scorer, tracker, hub, stream)
	return runErr
}

// shutdown stops upstream stages first and drains each downstream stage within the grace period.
func (a *App) shutdown(detector, scorer, tracker, hub, stream worker) {
	c := a.c
	grace := a.cfg.Server.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	detector.cancel()
	<-detector.done
	a.log.Info("detector stopped")

	c.Queue.Close()
	if !scorer.wait(ctx) {
		a.log.Warn("scorer did not drain in time", applogger.Int("pending_events", c.Queue.Len()))
		scorer.cancel()
		<-scorer.done
	}
	scorer.cancel()

	tracker.cancel()
	<-tracker.done
	if stream.cancel != nil {
		stream.cancel()
		<-stream.done
	}

	if err := c.Notifier.Stop(ctx); err != nil {
		a.log.Warn("notifier stop", applogger.Error(err))
	}
	if err := c.Recorder.Stop(ctx); err != nil {
		a.log.Warn("event recorder stop", applogger.Error(err))
	}

	hub.cancel()
	<-hub.done
	if err := c.Hub.Close(ctx); err != nil {
		a.log.Warn("broadcast hub close", applogger.Error(err))
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := c.HTTP.Stop(httpCtx); err != nil {
		a.log.Error("http shutdown", applogger.Error(err))
	}
	httpCancel()

	if c.Consumer != nil {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.Consumer.Stop(cctx); err != nil {
			a.log.Warn("kafka consumer stop", applogger.Error(err))
		}
		ccancel()
	}

	var errs []error
	for _, cl := range c.Closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cl.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close clients", applogger.Error(err))
	}
	a.log.Info("shutdown complete")
	a.log.RemoveCollector()
}
