package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/handler/api"
	mid "SignalFlow/internal/middleware"
	internalrepo "SignalFlow/internal/repository"
	"SignalFlow/internal/service/broadcast"
	"SignalFlow/internal/service/marketdata"
	"SignalFlow/internal/service/notifier"
	"SignalFlow/internal/service/pricefeed"
	"SignalFlow/internal/service/ratelimit"
	"SignalFlow/internal/usecase"
	"SignalFlow/pkg/cache"
	pkgch "SignalFlow/pkg/clickhouse"
	"SignalFlow/pkg/config"
	xhttp "SignalFlow/pkg/http"
	pkgkafka "SignalFlow/pkg/kafka"
	applogger "SignalFlow/pkg/logger"
	"SignalFlow/pkg/metrics"
	"SignalFlow/pkg/postgres"
	"SignalFlow/pkg/queue"
	"SignalFlow/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the process logger. Error logs are aggregated onto the
// logs topic when log.collect is set.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics registers the recorder on the default registry, which also
// carries the Kafka client collectors.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := cache.NewRedisClient(ctx,
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisTimeout(cfg.Redis.Timeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache is the shared cache: a small in-process layer over Redis.
func ProvideCache(cfg *config.Config, client *redis.Client) cache.Service {
	return cache.NewLayeredCache(
		cache.NewRedisCache(client, cfg.Redis.Prefix),
		cache.WithLayeredMemory(10000, cfg.API.CacheTTL),
	)
}

func ProvidePostgresPool(cfg *config.Config) (*postgres.Pool, func(), error) {
	if cfg.Storage.Driver != "postgres" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:            cfg.Postgres.DSN,
		MaxConns:       cfg.Postgres.MaxConns,
		ConnectTimeout: cfg.Postgres.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return pool, pool.Close, nil
}

func ProvideSignalStore(pool *postgres.Pool) domrepo.SignalStore {
	if pool == nil {
		return internalrepo.NewMemorySignalStore()
	}
	return internalrepo.NewPostgresSignalStore(pool)
}

// ProvideClickHouseClient connects only when something writes to ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.EventLog.Backend != "clickhouse" && !cfg.Kafka.Consumer.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxConns),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideEventLog is the queryable event log: ClickHouse when connected, else an in-memory ring.
func ProvideEventLog(cfg *config.Config, ch *pkgch.Client) (domrepo.EventLog, error) {
	if ch == nil {
		return internalrepo.NewMemoryEventLog(cfg.EventLog.MemoryLimit), nil
	}
	store := internalrepo.NewClickHouseEventLog(ch, "events")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events)
}

func ProvideEventRecorder(cfg *config.Config, pub domrepo.EventPublisher, store domrepo.EventLog, m domrepo.Metrics, l *applogger.Logger) *usecase.EventRecorder {
	return usecase.NewEventRecorder(pub, store, m, l.With(applogger.String("component", "event_recorder")),
		cfg.EventLog.Backend, cfg.EventLog.BatchSize, cfg.EventLog.BatchTimeout, cfg.EventLog.BufferSize)
}

func ProvideFeatureSource(cfg *config.Config, client *redis.Client, l *applogger.Logger) domrepo.FeatureSource {
	return marketdata.NewRedisSource(client, domrepo.NormalizeTimeframe(cfg.Features.PrimaryTimeframe), l)
}

// ProvidePriceStream creates the mark price websocket source, or nil when it is disabled.
func ProvidePriceStream(cfg *config.Config, l *applogger.Logger) *pricefeed.StreamSource {
	st := cfg.Price.Stream
	if !st.Enabled {
		return nil
	}
	return pricefeed.NewStreamSource(pricefeed.StreamConfig{
		URL:            st.URL,
		Symbols:        cfg.Symbols,
		MaxAge:         st.MaxAge,
		ReconnectDelay: st.ReconnectDelay,
		MaxReconnect:   st.MaxReconnect,
		PingInterval:   st.PingInterval,
	}, l.With(applogger.String("component", "price_stream")))
}

// ProvidePriceSource reads the live stream when enabled, then Redis, and falls
// back to the exchange REST API.
func ProvidePriceSource(cfg *config.Config, client *redis.Client, stream *pricefeed.StreamSource, m domrepo.Metrics, l *applogger.Logger) domrepo.PriceSource {
	var sources []pricefeed.NamedSource
	if stream != nil {
		sources = append(sources, stream)
	}
	sources = append(sources, pricefeed.NewRedisSource(client, domrepo.NormalizeTimeframe(cfg.Features.PrimaryTimeframe)))
	if cfg.Price.RESTEnabled {
		sources = append(sources, pricefeed.NewRESTSource(cfg.Price.RESTBaseURL, cfg.Price.Timeout))
	}
	return pricefeed.NewChain(m, l, sources...)
}

func ProvideEventQueue(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) *mid.EventQueue {
	return mid.NewEventQueue(cfg.Detector.QueueCapacity, l.With(applogger.String("component", "event_queue")), m,
		mid.WithMinReemitInterval(cfg.Detector.MinReemitInterval))
}

func ProvideDetector(cfg *config.Config, features domrepo.FeatureSource, q *mid.EventQueue, rec *usecase.EventRecorder, m domrepo.Metrics, l *applogger.Logger) *usecase.EventDetector {
	d := cfg.Detector
	return usecase.NewEventDetector(usecase.DetectorConfig{
		Symbols:                 cfg.Symbols,
		Interval:                d.Interval,
		LiqSpikeThreshold:       d.LiqSpikeThreshold,
		LiqWindow:               d.LiqWindow,
		OIExpansionThreshold:    d.OIExpansionThreshold,
		ATRExpansionThreshold:   d.ATRExpansionThreshold,
		ImbalanceFlipThreshold:  d.ImbalanceFlipThreshold,
		FundingExtremeThreshold: d.FundingExtremeThreshold,
		FundingWindow:           d.FundingWindow,
		ReadTimeout:             d.ReadTimeout,
	}, features, q, rec, m, l.With(applogger.String("component", "detector")))
}

func ProvideMTFChecker(cfg *config.Config, features domrepo.FeatureSource) *usecase.MTFChecker {
	return usecase.NewMTFChecker(features, domrepo.ParseTimeframes(cfg.Scorer.MTF.Timeframes), cfg.Scorer.MTF.MinAligned, cfg.Scorer.ReadTimeout)
}

// ProvideSender picks Telegram when a bot token is configured and logs messages otherwise.
func ProvideSender(cfg *config.Config, l *applogger.Logger) notifier.Sender {
	if cfg.Telegram.BotToken == "" {
		return notifier.NewLogSender(l.With(applogger.String("component", "log_sender")))
	}
	return notifier.NewTelegramSender(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout)
}

func ProvideDeliveryLog(cfg *config.Config, shared cache.Service) (domrepo.DeliveryLog, func()) {
	if cfg.Notifier.DedupBackend == "redis" {
		return internalrepo.NewCacheDeliveryLog(shared, cfg.Notifier.DedupTTL), func() {}
	}
	mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(100000))
	return internalrepo.NewCacheDeliveryLog(mc, cfg.Notifier.DedupTTL), func() { _ = mc.Close() }
}

func ProvideRetryQueue(cfg *config.Config, client *redis.Client) domrepo.RetryQueue {
	if cfg.Notifier.RetryBackend == "redis" {
		return internalrepo.NewDelayRetryQueue(queue.NewRedisDelayQueue(client, queue.WithKeyPrefix(cfg.Redis.Prefix+":notify")))
	}
	return internalrepo.NewDelayRetryQueue(queue.NewMemoryDelayQueue())
}

func ProvideNotifier(cfg *config.Config, sender notifier.Sender, deliveries domrepo.DeliveryLog, retries domrepo.RetryQueue, m domrepo.Metrics, l *applogger.Logger) *notifier.Notifier {
	n := cfg.Notifier
	return notifier.New(notifier.Config{
		QueueCapacity: n.QueueCapacity,
		RatePerSecond: n.RatePerSecond,
		MaxAttempts:   n.MaxAttempts,
		BackoffBase:   n.BackoffBase,
		BackoffMax:    n.BackoffMax,
		SendTimeout:   n.SendTimeout,
	}, sender, deliveries, retries, ratelimit.New(), m, l)
}

func ProvideTracker(cfg *config.Config, store domrepo.SignalStore, prices domrepo.PriceSource, m domrepo.Metrics, l *applogger.Logger) *usecase.LifecycleTracker {
	return usecase.NewLifecycleTracker(usecase.TrackerConfig{
		PollInterval: cfg.Tracker.PollInterval,
		TTL:          cfg.Tracker.TTL,
		WriteTimeout: cfg.Tracker.WriteTimeout,
		PriceTimeout: cfg.Price.Timeout,
	}, store, prices, nil, m, l.With(applogger.String("component", "tracker")))
}

func ProvideHub(cfg *config.Config, m domrepo.Metrics, tracker *usecase.LifecycleTracker, l *applogger.Logger) *broadcast.Hub {
	b := cfg.Broadcast
	return broadcast.NewHub(broadcast.Config{
		StatusInterval:    b.StatusInterval,
		KeepaliveInterval: b.KeepaliveInterval,
		WriteTimeout:      b.WriteTimeout,
		SendBuffer:        b.SendBuffer,
		Version:           server.Version,
	}, m, tracker, l)
}

// ProvideDistributor fans signals out to the notifier and the hub, and closes the
// loop by handing itself to the tracker for outcomes.
func ProvideDistributor(n *notifier.Notifier, hub *broadcast.Hub, tracker *usecase.LifecycleTracker, m domrepo.Metrics, l *applogger.Logger) *usecase.Distributor {
	d := usecase.NewDistributor(m, l.With(applogger.String("component", "distributor")), n, hub)
	tracker.SetDistributor(d)
	return d
}

func ProvideSignalCache(cfg *config.Config, c cache.Service) domrepo.SignalCache {
	return internalrepo.NewCacheSignalCache(c, cfg.Tracker.TTL)
}

func ProvideScorer(
	cfg *config.Config,
	features domrepo.FeatureSource,
	mtf *usecase.MTFChecker,
	prices domrepo.PriceSource,
	store domrepo.SignalStore,
	tracker *usecase.LifecycleTracker,
	dist *usecase.Distributor,
	sc domrepo.SignalCache,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.SignalScorer {
	s := cfg.Scorer
	return usecase.NewSignalScorer(usecase.ScorerConfig{
		Threshold:          s.Threshold,
		Cooldown:           s.Cooldown,
		BufferTTL:          s.BufferTTL,
		ReevaluateInterval: s.ReevaluateInterval,
		PersistTimeout:     s.PersistTimeout,
		ReadTimeout:        s.ReadTimeout,
		TPMultiplier:       s.TPMultiplier,
		SLMultiplier:       s.SLMultiplier,
		MTFEnabled:         s.MTF.Enabled,
	}, features, mtf, prices, store, tracker, dist, sc, m, l.With(applogger.String("component", "scorer")))
}

// ProvideKafkaConsumer creates the events consumer, or nil when it is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(l.With(applogger.String("component", "kafka_consumer"))),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideKafkaEventsHandler(cfg *config.Config, store domrepo.EventLog, m domrepo.Metrics) *usecase.KafkaEventsHandler {
	return usecase.NewKafkaEventsHandler(cfg.Kafka.Topics.Events, store, m)
}

func ProvideHealthChecks(store domrepo.SignalStore, events domrepo.EventLog, client *redis.Client) []api.HealthCheck {
	return []api.HealthCheck{
		{Name: "signal_store", Check: store.Health},
		{Name: "event_log", Check: events.Health},
		{Name: "redis", Check: func(ctx context.Context) error { return client.Ping(ctx).Err() }},
	}
}

func ProvideAPIHandler(
	cfg *config.Config,
	l *applogger.Logger,
	store domrepo.SignalStore,
	tracker *usecase.LifecycleTracker,
	events domrepo.EventLog,
	c cache.Service,
	hub *broadcast.Hub,
	checks []api.HealthCheck,
	dist *usecase.Distributor,
) *api.SignalsEchoHandler {
	h := api.NewSignalsEchoHandler(l.With(applogger.String("component", "api")), store, tracker, events, c, hub, checks, api.Options{
		CacheTTL:      cfg.API.CacheTTL,
		RatePerSecond: 20,
		Version:       server.Version,
	})
	dist.AddOutcomeListener(h)
	return h
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.SignalsEchoHandler) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
	}
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	opts = append(opts, xhttp.WithMetrics(path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	return xhttp.NewServer(l, []xhttp.Handler{h}, opts...)
}

// ProvideApp assembles the runnable application. The scorer depends on the
// distributor, so building it here also completes the outcome loop.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	q *mid.EventQueue,
	detector *usecase.EventDetector,
	scorer *usecase.SignalScorer,
	tracker *usecase.LifecycleTracker,
	n *notifier.Notifier,
	hub *broadcast.Hub,
	rec *usecase.EventRecorder,
	stream *pricefeed.StreamSource,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaEventsHandler,
	httpServer *xhttp.Server,
	store domrepo.SignalStore,
	events domrepo.EventLog,
) *server.App {
	c := server.Components{
		Queue:       q,
		Detector:    detector,
		Scorer:      scorer,
		Tracker:     tracker,
		Notifier:    n,
		Hub:         hub,
		Recorder:    rec,
		PriceStream: stream,
		HTTP:        httpServer,
		Closers: []server.Closer{
			{Name: "signal_store", Close: store.Close},
			{Name: "event_log", Close: events.Close},
		},
	}
	if consumer != nil {
		c.Consumer = consumer
		c.EventsHandler = kh
	}
	return server.New(cfg, l, c)
}
