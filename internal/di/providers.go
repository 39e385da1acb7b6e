package di

import (
	"context"
	"fmt"
	"time"

	"OTCDesk/internal/domain/repository"
	"OTCDesk/internal/handler/api"
	"OTCDesk/internal/handler/ws"
	mid "OTCDesk/internal/middleware"
	internalrepo "OTCDesk/internal/repository"
	"OTCDesk/internal/usecase"
	"OTCDesk/pkg/cache"
	pkgch "OTCDesk/pkg/clickhouse"
	"OTCDesk/pkg/config"
	"OTCDesk/pkg/database"
	xhttp "OTCDesk/pkg/http"
	pkgkafka "OTCDesk/pkg/kafka"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/metrics"
	"OTCDesk/pkg/queue"
	"OTCDesk/pkg/server"
	"OTCDesk/pkg/util"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func ProvideClock() util.Clock {
	return util.SystemClock{}
}

// ProvideDatabase opens the SQLite store and migrates every table.
func ProvideDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxRetries:   cfg.Database.MaxRetries,
		RetryBackoff: cfg.Database.RetryBackoff,
	}, internalrepo.Models()...)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return db, nil
}

// ProvideClickHouseClient creates a ClickHouse client, nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.TickSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, nil when disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	if err := kafkaTopics(cfg).Validate(); err != nil {
		return nil, fmt.Errorf("kafka topics: %w", err)
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, p.MaxAttempts),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithAsync(p.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// kafkaTopics resolves the desk's topic set from config.
func kafkaTopics(cfg *config.Config) pkgkafka.Topics {
	return pkgkafka.Topics{
		Ticks:         cfg.Kafka.TicksTopic,
		Settlements:   cfg.Kafka.SettlementsTopic,
		Interventions: cfg.Kafka.InterventionsTopic,
		Trades:        cfg.Kafka.TradesTopic,
		Alerts:        cfg.Kafka.AlertsTopic,
	}.Merge()
}

// ProvideKafkaConsumer creates a Kafka consumer, nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.RejectEmpty())
	return consumer, nil
}

// ProvideRedisCache connects to Redis, nil when disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers memory over Redis when Redis is enabled; memory only otherwise.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000))
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(2*time.Second))
}

func ProvideControlStore(db *database.DB) *internalrepo.ControlStore {
	return internalrepo.NewControlStore(db)
}

func ProvideAuditStore(db *database.DB) *internalrepo.AuditStore {
	return internalrepo.NewAuditStore(db)
}

func ProvideTradeStore(db *database.DB) *internalrepo.TradeStore {
	return internalrepo.NewTradeStore(db)
}

// ProvideInterventionMirror mirrors audit rows to Kafka when it is enabled.
func ProvideInterventionMirror(cfg *config.Config, producer *pkgkafka.Producer) repository.InterventionMirror {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEvents(producer, kafkaTopics(cfg))
}

// ProvideEventPublisher selects the settlement notifier.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, rc *cache.RedisCache, l *applogger.Logger) (repository.EventPublisher, error) {
	switch cfg.Notifications.Backend {
	case "kafka":
		if producer == nil {
			return nil, fmt.Errorf("notifications: kafka backend requires kafka.enabled")
		}
		return internalrepo.NewKafkaEvents(producer, kafkaTopics(cfg)), nil
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("notifications: redis backend requires redis.enabled")
		}
		q := queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":"+cfg.Notifications.Queue))
		return internalrepo.NewQueueEvents(q), nil
	case "webhook":
		client := xhttp.NewClient(
			xhttp.WithTimeout(cfg.Notifications.WebhookTimeout),
			xhttp.WithRetries(cfg.Notifications.WebhookRetries, 200*time.Millisecond),
		)
		return internalrepo.NewWebhookEvents(client, cfg.Notifications.WebhookURL), nil
	default:
		return internalrepo.NewLogEvents(l), nil
	}
}

func ProvideAuditLog(store *internalrepo.AuditStore, mirror repository.InterventionMirror, m repository.Metrics, clock util.Clock, l *applogger.Logger) *usecase.AuditLog {
	return usecase.NewAuditLog(store, mirror, m, clock, l)
}

// ProvideManualControlService builds the control façade over the SQLite stores.
func ProvideManualControlService(
	cfg *config.Config,
	controls *internalrepo.ControlStore,
	trades *internalrepo.TradeStore,
	audit *usecase.AuditLog,
	m repository.Metrics,
	clock util.Clock,
	l *applogger.Logger,
) *usecase.ManualControlService {
	ticks := make(map[string]float64, len(cfg.Engine.Symbols))
	for _, s := range cfg.Engine.Symbols {
		ticks[s.Symbol] = s.TickSize
	}
	return usecase.NewManualControlService(usecase.ManualControlDeps{
		Controls:  controls,
		Targets:   controls,
		Trades:    trades,
		Users:     trades,
		Audit:     audit,
		Clock:     clock,
		Random:    newLockedRand(cfg.Engine.Seed),
		Metrics:   m,
		Logger:    l.With(applogger.String("component", "controls")),
		Symbols:   symbolNames(cfg),
		TickSizes: ticks,
	})
}

func symbolNames(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Engine.Symbols))
	for _, s := range cfg.Engine.Symbols {
		out = append(out, s.Symbol)
	}
	return out
}

func ProvideTickDistributor(cfg *config.Config, m repository.Metrics) *usecase.TickDistributor {
	return usecase.NewTickDistributor(cfg.Engine.HistorySize, m)
}

func ProvidePriceEngine(
	cfg *config.Config,
	controls *usecase.ManualControlService,
	dist *usecase.TickDistributor,
	c cache.Service,
	clock util.Clock,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.PriceEngine {
	params := make([]usecase.SymbolParams, 0, len(cfg.Engine.Symbols))
	for _, s := range cfg.Engine.Symbols {
		params = append(params, usecase.SymbolParams{
			Symbol:        s.Symbol,
			BasePrice:     s.BasePrice,
			Volatility:    s.Volatility,
			TickSize:      s.TickSize,
			Drift:         s.Drift,
			MeanReversion: s.MeanReversion,
		})
	}
	return usecase.NewPriceEngine(params, cfg.Engine.Seed, controls, dist, clock, m,
		l.With(applogger.String("component", "engine")),
		usecase.WithTickInterval(cfg.Engine.TickInterval),
		usecase.WithSnapshots(c, 5*time.Second, cfg.Redis.TTL),
	)
}

func ProvideSettlementEngine(
	cfg *config.Config,
	trades *internalrepo.TradeStore,
	controls *usecase.ManualControlService,
	dist *usecase.TickDistributor,
	engine *usecase.PriceEngine,
	c cache.Service,
	events repository.EventPublisher,
	clock util.Clock,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.SettlementEngine {
	return usecase.NewSettlementEngine(trades, controls, dist, engine, clock, m,
		l.With(applogger.String("component", "settlement")),
		usecase.WithLocker(c, cfg.Settlement.LockTTL),
		usecase.WithEvents(events, cfg.Settlement.EventBuffer),
		usecase.WithSweepInterval(cfg.Settlement.SweepInterval),
	)
}

// ProvideTickStorage creates the ClickHouse tick archive, nil when disabled.
func ProvideTickStorage(ch *pkgch.Client) repository.Storage {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseStorage(ch)
}

// ProvideTickPublisher creates the Kafka tick stream, nil when disabled.
func ProvideTickPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, kafkaTopics(cfg).Ticks)
}

// ProvideTickCollector wires the archive pipeline, nil when no backend is set.
func ProvideTickCollector(
	cfg *config.Config,
	dist *usecase.TickDistributor,
	pub repository.Publisher,
	store repository.Storage,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.TickCollector {
	if cfg.Backend.Type == "" {
		return nil
	}
	proc := usecase.NewTickProcessor(pub, store, m, cfg.Backend.Type)
	pipe := mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
	return usecase.NewTickCollector(dist, pipe, m, l.With(applogger.String("component", "archive")),
		cfg.Backend.BatchSize, cfg.Backend.BatchTimeout)
}

// ProvideCandles reads candles from ClickHouse; without it candle reads fail as unavailable.
func ProvideCandles(ch *pkgch.Client, l *applogger.Logger) *usecase.CandlesUseCase {
	if ch == nil {
		return usecase.NewCandlesUseCase(nil)
	}
	return usecase.NewCandlesUseCase(internalrepo.NewCHCandleStore(ch, l))
}

// ProvideMessageHandlers lists the consumers for enabled topics.
func ProvideMessageHandlers(
	cfg *config.Config,
	store repository.Storage,
	trades *internalrepo.TradeStore,
	m repository.Metrics,
	l *applogger.Logger,
) []pkgkafka.MessageHandler {
	if !cfg.Kafka.Enabled {
		return nil
	}
	handlers := []pkgkafka.MessageHandler{
		usecase.NewKafkaTradesHandler(kafkaTopics(cfg).Trades, trades, trades, cfg.Settlement.DefaultPayoutRate, m, l,
			usecase.WithIntakeSymbols(symbolNames(cfg)...)),
	}
	if store != nil && cfg.Backend.Type == "kafka" {
		handlers = append(handlers, usecase.NewKafkaTicksHandler(kafkaTopics(cfg).Ticks, internalrepo.DecodeTickMessage, store, m))
	}
	return handlers
}

// ProvideHTTPHandlers lists every route group.
func ProvideHTTPHandlers(
	cfg *config.Config,
	controls *usecase.ManualControlService,
	audit *usecase.AuditLog,
	engine *usecase.PriceEngine,
	dist *usecase.TickDistributor,
	candles *usecase.CandlesUseCase,
	db *database.DB,
	ch *pkgch.Client,
	rc *cache.RedisCache,
	clock util.Clock,
	m repository.Metrics,
	l *applogger.Logger,
) []xhttp.Handler {
	checks := map[string]xhttp.HealthCheck{"database": db.Ping}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() }
	}
	handlers := []xhttp.Handler{
		xhttp.NewHealthHandler(2*time.Second, checks),
		api.NewAdminEchoHandler(l, controls, audit),
		api.NewPricesEchoHandler(l, engine, dist, candles, clock),
	}
	if cfg.Feed.Enabled {
		handlers = append(handlers, ws.NewFeedHandler(dist, m, l, cfg.Feed.PerClientRate, cfg.Feed.Burst))
	}
	return handlers
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp creates the application and attaches error alerting when Kafka is on.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	db *database.DB,
	controls *usecase.ManualControlService,
	engine *usecase.PriceEngine,
	settlement *usecase.SettlementEngine,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	if cfg.Log.Alerts && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Service:        "otcdesk",
			TimeInterval:   cfg.Log.FlushInterval,
			CountThreshold: cfg.Log.FlushCount,
			Topic:          kafkaTopics(cfg).Alerts,
			Publisher:      producer,
		})
	}
	return server.New(server.Deps{
		Config:     cfg,
		Logger:     l,
		DB:         db,
		Controls:   controls,
		Engine:     engine,
		Settlement: settlement,
		Collector:  collector,
		Consumer:   consumer,
		Handlers:   handlers,
		HTTP:       httpServer,
		Producer:   producer,
		ClickHouse: ch,
		Cache:      c,
	})
}
