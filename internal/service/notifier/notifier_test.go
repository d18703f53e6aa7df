package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFlow/internal/domain/models"
	"SignalFlow/internal/repository"
	"SignalFlow/pkg/cache"
	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/metrics"
	"SignalFlow/pkg/queue"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	errs  []error
	calls int
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	n       *Notifier
	sender  *fakeSender
	delay   *queue.MemoryDelayQueue
	metrics *metrics.Recorder
	now     time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	h := &harness{
		sender:  &fakeSender{},
		delay:   queue.NewMemoryDelayQueue(),
		metrics: metrics.New(prometheus.NewRegistry()),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1000
	}
	h.n = New(cfg, h.sender,
		repository.NewCacheDeliveryLog(mc, time.Hour),
		repository.NewDelayRetryQueue(h.delay),
		nil, h.metrics, logger.NewNop())
	h.n.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) counter(name string) float64 {
	return h.metrics.Snapshot()[name]
}

// gatedSender holds every send until release is closed or the send context ends.
type gatedSender struct {
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	calls  int
	sent   int
	ctxErr error
}

func newGatedSender() *gatedSender {
	return &gatedSender{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedSender) Name() string { return "gated" }

func (g *gatedSender) Send(ctx context.Context, _ string) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		g.mu.Lock()
		g.ctxErr = ctx.Err()
		g.mu.Unlock()
		return ctx.Err()
	}
	g.mu.Lock()
	g.sent++
	g.mu.Unlock()
	return nil
}

func (g *gatedSender) counts() (calls, sent int, ctxErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, g.sent, g.ctxErr
}

func (g *gatedSender) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("send did not start")
	}
}

func newGatedNotifier(t *testing.T, cfg Config) (*Notifier, *gatedSender, *metrics.Recorder) {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1000
	}
	g := newGatedSender()
	m := metrics.New(prometheus.NewRegistry())
	n := New(cfg, g,
		repository.NewCacheDeliveryLog(mc, time.Hour),
		repository.NewDelayRetryQueue(queue.NewMemoryDelayQueue()),
		nil, m, logger.NewNop())
	return n, g, m
}

func sampleSignal(id string, score float64) *models.Signal {
	tp, sl := models.Levels(models.Long, 50000, 200, 2, 1)
	return &models.Signal{
		ID:            id,
		Symbol:        "BTCUSDT",
		Direction:     models.Long,
		Score:         score,
		EntryPrice:    50000,
		TargetPrice:   tp,
		StopPrice:     sl,
		ATR:           200,
		TriggerEvents: []models.EventKind{models.EventLiquidationSpike, models.EventOIExpansion},
		CreatedAt:     time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestFingerprint(t *testing.T) {
	a := sampleSignal("a", 0.72)
	b := sampleSignal("b", 0.72)
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "id is not part of the fingerprint")

	c := sampleSignal("c", 0.73)
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))

	d := sampleSignal("d", 0.72)
	d.Direction = models.Short
	assert.NotEqual(t, Fingerprint(a), Fingerprint(d))
}

func TestBackoff(t *testing.T) {
	base, max := 2*time.Second, 60*time.Second
	assert.Equal(t, 2*time.Second, Backoff(base, max, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, max, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, max, 3))
	assert.Equal(t, 32*time.Second, Backoff(base, max, 5))
	assert.Equal(t, max, Backoff(base, max, 6))
	assert.Equal(t, max, Backoff(base, max, 60))
}

func TestDuplicateSignalIsSentOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.n.Start()
	defer h.n.Stop(context.Background())

	sig := sampleSignal("s-1", 0.72)
	h.n.OnSignal(sig)
	require.Eventually(t, func() bool { return len(h.sender.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)

	h.n.OnSignal(sig.Clone())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.sender.Sent(), 1)
	assert.Equal(t, float64(1), h.counter("notifications_duplicate"))
	assert.Equal(t, float64(1), h.counter("notifications_sent"))
}

func TestFullQueueDropsNewEntries(t *testing.T) {
	h := newHarness(t, Config{QueueCapacity: 2})

	assert.True(t, h.n.Enqueue(models.NotifySignal, "k1", sampleSignal("1", 0.7)))
	assert.True(t, h.n.Enqueue(models.NotifySignal, "k2", sampleSignal("2", 0.7)))
	assert.False(t, h.n.Enqueue(models.NotifySignal, "k3", sampleSignal("3", 0.7)))

	assert.Equal(t, 2, h.n.QueueLen())
	assert.Equal(t, float64(1), h.counter("notifications_dropped"))
}

func TestFailedSendIsRetriedAfterBackoff(t *testing.T) {
	h := newHarness(t, Config{})
	h.sender.errs = []error{errors.New("connection reset")}
	ctx := context.Background()

	h.n.Process(ctx, models.QueueEntry{Kind: models.NotifySignal, Key: "k", Signal: sampleSignal("s", 0.7)})
	assert.Empty(t, h.sender.Sent())
	assert.Equal(t, float64(1), h.counter("notifications_retry"))
	n, err := h.delay.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.now = h.now.Add(time.Second)
	assert.Equal(t, 0, h.n.ProcessDue(ctx), "first backoff is two seconds")

	h.now = h.now.Add(time.Second)
	assert.Equal(t, 1, h.n.ProcessDue(ctx))
	assert.Len(t, h.sender.Sent(), 1)
	assert.Equal(t, float64(1), h.counter("notifications_sent"))
}

func TestRetryAfterExtendsBackoff(t *testing.T) {
	h := newHarness(t, Config{})
	h.sender.errs = []error{&RetryAfterError{After: 30 * time.Second, Err: errors.New("429")}}
	ctx := context.Background()

	h.n.Process(ctx, models.QueueEntry{Kind: models.NotifySignal, Key: "k", Signal: sampleSignal("s", 0.7)})

	h.now = h.now.Add(10 * time.Second)
	assert.Equal(t, 0, h.n.ProcessDue(ctx))
	h.now = h.now.Add(20 * time.Second)
	assert.Equal(t, 1, h.n.ProcessDue(ctx))
	assert.Len(t, h.sender.Sent(), 1)
}

func TestExhaustedRetriesGoToDeadLetter(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2})
	boom := errors.New("bad gateway")
	h.sender.errs = []error{boom, boom}
	ctx := context.Background()

	h.n.Process(ctx, models.QueueEntry{Kind: models.NotifySignal, Key: "k", Signal: sampleSignal("s", 0.7)})
	h.now = h.now.Add(time.Minute)
	assert.Equal(t, 1, h.n.ProcessDue(ctx))

	assert.Equal(t, 2, h.sender.Calls())
	n, err := h.delay.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	dead, err := h.delay.DeadLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
	assert.Equal(t, float64(1), h.counter("notifications_failed"))
}

func TestOutcomeNotificationUsesOutcomeKey(t *testing.T) {
	h := newHarness(t, Config{})
	sig := sampleSignal("s-7", 0.7)
	sig.Apply(models.OutcomeUpdate{Outcome: models.OutcomeTPHit, ClosedAt: sig.CreatedAt.Add(90 * time.Minute), ClosePrice: 50400, ReturnPct: 0.8})

	h.n.OnOutcome(sig)
	require.Equal(t, 1, h.n.QueueLen())
	h.n.Process(context.Background(), <-h.n.queue)

	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "TARGET HIT")

	h.n.OnOutcome(sig)
	assert.Zero(t, h.n.QueueLen())
	assert.Equal(t, float64(1), h.counter("notifications_duplicate"))
}

func TestOpenSignalOutcomeIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.n.OnOutcome(sampleSignal("open", 0.7))
	assert.Zero(t, h.n.QueueLen())
}

func TestStopDrainsQueue(t *testing.T) {
	h := newHarness(t, Config{})
	for i := 0; i < 3; i++ {
		h.n.OnSignal(sampleSignal("s", 0.70+float64(i)/100))
	}
	h.n.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.n.Stop(ctx))
	assert.Len(t, h.sender.Sent(), 3)

	assert.False(t, h.n.Enqueue(models.NotifySignal, "late", sampleSignal("late", 0.9)))
}

func TestFormatSignal(t *testing.T) {
	msg := FormatSignal(sampleSignal("s", 0.7234))

	assert.True(t, strings.HasPrefix(msg, "🟢 <b>LONG Signal: BTCUSDT</b>"))
	assert.Contains(t, msg, "Score: <b>0.72</b>")
	assert.Contains(t, msg, "Triggers: liquidation_spike, oi_expansion")
	assert.Contains(t, msg, "Entry: <b>50000.0000</b>")
	assert.Contains(t, msg, "TP: <b>50400.0000</b>")
	assert.Contains(t, msg, "SL: <b>49800.0000</b>")
	assert.Contains(t, msg, "ATR: 200.0000  |  R:R = 2.0")
}

func TestFormatOutcome(t *testing.T) {
	sig := sampleSignal("s", 0.7)
	sig.Direction = models.Short
	sig.Apply(models.OutcomeUpdate{Outcome: models.OutcomeSLHit, ClosedAt: sig.CreatedAt.Add(45 * time.Second), ClosePrice: 50200, ReturnPct: -0.4})

	msg := FormatOutcome(sig)
	assert.True(t, strings.HasPrefix(msg, "🔴 <b>SHORT Signal: BTCUSDT</b> ❌ STOP LOSS"))
	assert.Contains(t, msg, "Duration: 45s")
	assert.Contains(t, msg, "📉 Return: -0.40%")
}

func TestSameKeyInFlightIsNotSentTwice(t *testing.T) {
	n, g, m := newGatedNotifier(t, Config{})
	entry := models.QueueEntry{Kind: models.NotifySignal, Key: "k", Signal: sampleSignal("s", 0.7)}

	done := make(chan struct{})
	go func() {
		n.Process(context.Background(), entry)
		close(done)
	}()
	g.waitStarted(t)

	// the retry worker picks up an older copy of the same key
	retry := entry
	retry.Attempt = 1
	n.Process(context.Background(), retry)

	close(g.release)
	<-done

	calls, sent, _ := g.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, sent)
	assert.Equal(t, float64(1), m.Snapshot()["notifications_duplicate"])
	assert.Equal(t, float64(1), m.Snapshot()["notifications_sent"])

	n.Process(context.Background(), entry)
	calls, _, _ = g.counts()
	assert.Equal(t, 1, calls)
}

func TestStopLetsInFlightSendFinish(t *testing.T) {
	n, g, m := newGatedNotifier(t, Config{SendTimeout: 5 * time.Second})
	require.True(t, n.Enqueue(models.NotifySignal, "k", sampleSignal("s", 0.7)))
	n.Start()
	g.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(g.release)
	}()

	err := n.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, sent, ctxErr := g.counts()
	assert.Equal(t, 1, sent)
	assert.NoError(t, ctxErr)
	assert.Equal(t, float64(1), m.Snapshot()["notifications_sent"])
}
