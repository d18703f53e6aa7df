package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/service/ratelimit"
	"SignalFlow/pkg/logger"
)

// Config controls queueing, pacing and retries.
type Config struct {
	QueueCapacity int
	RatePerSecond float64
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	SendTimeout   time.Duration
	RetryPoll     time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = 60 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RetryPoll <= 0 {
		c.RetryPoll = 500 * time.Millisecond
	}
}

const retryBatch = 50

// Notifier turns signals and outcomes into chat messages. Enqueueing never blocks:
// a full queue drops the new entry. Delivery is paced by a token bucket, failures
// go to the retry queue with exponential backoff and land in the dead-letter queue
// after MaxAttempts.
type Notifier struct {
	cfg        Config
	sender     Sender
	deliveries domrepo.DeliveryLog
	retries    domrepo.RetryQueue
	limiter    *ratelimit.Limiter
	metrics    domrepo.Metrics
	log        *logger.Logger
	now        func() time.Time

	queue  chan models.QueueEntry
	mu     sync.RWMutex
	closed bool

	// keys with a send in progress, shared by the main and retry workers
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc
	mainDone  chan struct{}
	retryDone chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(cfg Config, sender Sender, deliveries domrepo.DeliveryLog, retries domrepo.RetryQueue, limiter *ratelimit.Limiter, metrics domrepo.Metrics, log *logger.Logger) *Notifier {
	cfg.setDefaults()
	if limiter == nil {
		limiter = ratelimit.New()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		cfg:        cfg,
		sender:     sender,
		deliveries: deliveries,
		retries:    retries,
		limiter:    limiter,
		metrics:    metrics,
		log:        log.With(logger.String("component", "notifier"), logger.String("channel", sender.Name())),
		now:        time.Now,
		queue:      make(chan models.QueueEntry, cfg.QueueCapacity),
		inflight:   make(map[string]struct{}),
		runCtx:     runCtx,
		cancelRun:  cancel,
		mainDone:   make(chan struct{}),
		retryDone:  make(chan struct{}),
	}
}

// SetClock replaces the time source used for backoff scheduling.
func (n *Notifier) SetClock(now func() time.Time) { n.now = now }

func (n *Notifier) Name() string { return "notification" }

func (n *Notifier) OnSignal(s *models.Signal) {
	n.Enqueue(models.NotifySignal, Fingerprint(s), s)
}

func (n *Notifier) OnOutcome(s *models.Signal) {
	if s.Outcome == nil {
		return
	}
	n.Enqueue(models.NotifyOutcome, OutcomeKey(s.ID, *s.Outcome), s)
}

// Enqueue adds a notification unless its key was already delivered or the queue is full.
// It reports whether the entry was accepted.
func (n *Notifier) Enqueue(kind models.NotificationKind, key string, s *models.Signal) bool {
	if n.alreadyDelivered(key) {
		n.metrics.RecordNotification("duplicate")
		return false
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.metrics.RecordNotification("dropped")
		return false
	}

	entry := models.QueueEntry{Kind: kind, Key: key, Signal: s, EnqueuedAt: n.now()}
	select {
	case n.queue <- entry:
		n.metrics.RecordQueueDepth("notify_main", len(n.queue))
		return true
	default:
		n.metrics.RecordNotification("dropped")
		n.log.Warn("notification queue full, dropping",
			logger.String("key", key),
			logger.String("symbol", s.Symbol),
			logger.Int("capacity", cap(n.queue)),
		)
		return false
	}
}

// QueueLen is the number of entries waiting in the main queue.
func (n *Notifier) QueueLen() int { return len(n.queue) }

// Start launches the main and retry workers.
func (n *Notifier) Start() {
	n.startOnce.Do(func() {
		go n.mainLoop()
		go n.retryLoop()
		n.log.Info("notifier started", logger.Int("capacity", n.cfg.QueueCapacity))
	})
}

// Stop refuses new entries, drains the main queue until ctx is done, then stops
// both workers. A send already in progress runs to completion or its own
// SendTimeout. Entries still pending in the retry queue stay there.
func (n *Notifier) Stop(ctx context.Context) error {
	var err error
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()

		started := true
		n.startOnce.Do(func() { started = false })
		if !started {
			n.cancelRun()
			return
		}

		select {
		case <-n.mainDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
		n.cancelRun()
		<-n.mainDone
		<-n.retryDone
		n.log.Info("notifier stopped", logger.Int("undelivered", len(n.queue)))
	})
	return err
}

func (n *Notifier) mainLoop() {
	defer close(n.mainDone)
	for entry := range n.queue {
		if n.runCtx.Err() != nil {
			return
		}
		n.metrics.RecordQueueDepth("notify_main", len(n.queue))
		n.Process(n.runCtx, entry)
	}
}

func (n *Notifier) retryLoop() {
	defer close(n.retryDone)
	ticker := time.NewTicker(n.cfg.RetryPoll)
	defer ticker.Stop()
	for {
		select {
		case <-n.runCtx.Done():
			return
		case <-ticker.C:
			n.ProcessDue(n.runCtx)
		}
	}
}

// ProcessDue sends every retry entry whose next attempt time has passed.
func (n *Notifier) ProcessDue(ctx context.Context) int {
	entries, err := n.retries.PopDue(ctx, n.now(), retryBatch)
	if err != nil {
		n.metrics.RecordError("notify_retry_pop")
		n.log.Warn("pop retry queue", logger.Error(err))
		return 0
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			// put it back so it is not lost on shutdown
			if perr := n.retries.Push(context.Background(), e); perr != nil {
				n.log.Error("requeue on shutdown", logger.String("key", e.Key), logger.Error(perr))
			}
			continue
		}
		n.Process(ctx, e)
	}
	if depth, err := n.retries.Len(ctx); err == nil {
		n.metrics.RecordQueueDepth("notify_retry", depth)
	}
	return len(entries)
}

// Process makes one delivery attempt for entry. ctx bounds the wait for a rate
// token only; the send itself is bounded by SendTimeout.
func (n *Notifier) Process(ctx context.Context, entry models.QueueEntry) {
	if n.alreadyDelivered(entry.Key) {
		n.metrics.RecordNotification("duplicate")
		return
	}
	if err := n.limiter.Wait(ctx, n.sender.Name(), 1, n.cfg.RatePerSecond); err != nil {
		n.reschedule(entry, err)
		return
	}
	if !n.claim(entry.Key) {
		// the other worker owns this key and requeues it itself on failure
		n.metrics.RecordNotification("duplicate")
		return
	}
	defer n.release(entry.Key)
	if n.alreadyDelivered(entry.Key) {
		n.metrics.RecordNotification("duplicate")
		return
	}

	text := render(entry)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.SendTimeout)
	start := time.Now()
	err := n.sender.Send(sendCtx, text)
	cancel()
	n.metrics.RecordLatency("notify_send", time.Since(start).Seconds())

	if err != nil {
		n.fail(entry, err)
		return
	}

	rec := models.DeliveryRecord{
		Key:         entry.Key,
		Channel:     n.sender.Name(),
		DeliveredAt: n.now(),
		Status:      models.DeliverySent,
		Attempts:    entry.Attempt + 1,
	}
	markCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.deliveries.MarkDelivered(markCtx, rec); err != nil {
		n.metrics.RecordError("notify_mark_delivered")
		n.log.Warn("mark delivered", logger.String("key", entry.Key), logger.Error(err))
	}
	n.metrics.RecordNotification("sent")
	n.log.Debug("notification sent",
		logger.String("key", entry.Key),
		logger.String("kind", string(entry.Kind)),
		logger.Int("attempt", entry.Attempt+1),
	)
}

func (n *Notifier) fail(entry models.QueueEntry, err error) {
	entry.Attempt++
	entry.LastError = err.Error()

	if entry.Attempt >= n.cfg.MaxAttempts {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if derr := n.retries.DeadLetter(ctx, entry); derr != nil {
			n.log.Error("dead letter write failed", logger.String("key", entry.Key), logger.Error(derr))
		}
		n.metrics.RecordNotification("failed")
		n.log.Error("notification failed permanently",
			logger.String("key", entry.Key),
			logger.Int("attempts", entry.Attempt),
			logger.Error(err),
		)
		return
	}

	delay := Backoff(n.cfg.BackoffBase, n.cfg.BackoffMax, entry.Attempt)
	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.After > delay {
		delay = ra.After
	}
	entry.NextAttemptAt = n.now().Add(delay)
	n.push(entry)
	n.metrics.RecordNotification("retry")
	n.log.Warn("notification send failed, will retry",
		logger.String("key", entry.Key),
		logger.Int("attempt", entry.Attempt),
		logger.Duration("delay", delay),
		logger.Error(err),
	)
}

// reschedule puts an entry back without counting an attempt, used when the
// process is shutting down while waiting for a token.
func (n *Notifier) reschedule(entry models.QueueEntry, cause error) {
	entry.NextAttemptAt = n.now()
	n.push(entry)
	n.log.Debug("notification deferred", logger.String("key", entry.Key), logger.Error(cause))
}

func (n *Notifier) push(entry models.QueueEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.retries.Push(ctx, entry); err != nil {
		n.metrics.RecordError("notify_retry_push")
		n.log.Error("retry queue push failed", logger.String("key", entry.Key), logger.Error(err))
	}
}

func (n *Notifier) claim(key string) bool {
	n.inflightMu.Lock()
	defer n.inflightMu.Unlock()
	if _, busy := n.inflight[key]; busy {
		return false
	}
	n.inflight[key] = struct{}{}
	return true
}

func (n *Notifier) release(key string) {
	n.inflightMu.Lock()
	delete(n.inflight, key)
	n.inflightMu.Unlock()
}

func (n *Notifier) alreadyDelivered(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := n.deliveries.Delivered(ctx, key)
	if err != nil {
		// an unreachable dedup store must not stop delivery
		n.metrics.RecordError("notify_dedup")
		return false
	}
	return ok
}

// Backoff is base*2^(attempt-1) capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func render(entry models.QueueEntry) string {
	if entry.Kind == models.NotifyOutcome {
		return FormatOutcome(entry.Signal)
	}
	return FormatSignal(entry.Signal)
}
