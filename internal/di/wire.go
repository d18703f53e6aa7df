//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/metrics"
	"SignalFlow/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Metrics
		ProvideMetrics,
		wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideRedisClient,
		ProvideCache,
		ProvidePostgresPool,
		ProvideClickHouseClient,

		// Repositories
		ProvideSignalStore,
		ProvideEventLog,
		ProvideEventPublisher,
		ProvideDeliveryLog,
		ProvideRetryQueue,
		ProvideSignalCache,

		// Market data
		ProvideFeatureSource,
		ProvidePriceStream,
		ProvidePriceSource,

		// Pipeline
		ProvideEventRecorder,
		ProvideEventQueue,
		ProvideDetector,
		ProvideMTFChecker,
		ProvideTracker,
		ProvideSender,
		ProvideNotifier,
		ProvideHub,
		ProvideDistributor,
		ProvideScorer,

		// Kafka consumer
		ProvideKafkaConsumer,
		ProvideKafkaEventsHandler,

		// HTTP
		ProvideHealthChecks,
		ProvideAPIHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
