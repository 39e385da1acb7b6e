//go:build wireinject
// +build wireinject

package di

import (
	"OTCDesk/pkg/config"
	"OTCDesk/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideClock,

		// Infrastructure clients
		ProvideDatabase,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideControlStore,
		ProvideAuditStore,
		ProvideTradeStore,
		ProvideInterventionMirror,
		ProvideEventPublisher,
		ProvideTickStorage,
		ProvideTickPublisher,

		// Use cases
		ProvideAuditLog,
		ProvideManualControlService,
		ProvideTickDistributor,
		ProvidePriceEngine,
		ProvideSettlementEngine,
		ProvideTickCollector,
		ProvideCandles,
		ProvideMessageHandlers,

		// Transport
		ProvideHTTPHandlers,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
