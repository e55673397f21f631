//go:build wireinject
// +build wireinject

package di

import (
	"Pond/pkg/config"
	"Pond/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideMetrics,
		ProvideLogger,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,

		// Repositories
		ProvideKlineStore,
		ProvidePublisher,

		// Upstreams
		ProvideBinanceClient,
		ProvideSources,

		// Use cases
		ProvideSink,
		ProvideKlineSync,
		ProvideKlinesQuery,
		ProvideKlineCollector,
		ProvideKafkaConsumer,
		ProvideKafkaKlinesHandler,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
