package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"OTCDesk/internal/usecase"
	"OTCDesk/pkg/cache"
	pkgch "OTCDesk/pkg/clickhouse"
	"OTCDesk/pkg/config"
	"OTCDesk/pkg/database"
	xhttp "OTCDesk/pkg/http"
	pkgkafka "OTCDesk/pkg/kafka"
	applogger "OTCDesk/pkg/logger"
)

// Deps are the components the App starts and stops. Optional ones may be nil.
type Deps struct {
	Config     *config.Config
	Logger     *applogger.Logger
	DB         *database.DB
	Controls   *usecase.ManualControlService
	Engine     *usecase.PriceEngine
	Settlement *usecase.SettlementEngine
	Collector  *usecase.TickCollector
	Consumer   *pkgkafka.Consumer
	Handlers   []pkgkafka.MessageHandler
	HTTP       *xhttp.Server
	Producer   *pkgkafka.Producer
	ClickHouse *pkgch.Client
	Cache      cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	Deps
	l *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(d Deps) *App {
	return &App{Deps: d, l: d.Logger}
}

// Run starts every component and blocks until interrupted or the HTTP server fails.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Controls must be loaded before the first tick so that restored overrides apply.
	if err := a.Controls.LoadFromDatabase(ctx); err != nil {
		return err
	}
	a.Controls.Start(ctx)

	a.Engine.Start(ctx)
	a.Settlement.Start(ctx)
	a.l.Info("price engine started", applogger.Strings("symbols", a.Engine.Symbols()))

	if a.Collector != nil {
		a.Collector.Start(ctx)
		a.l.Info("tick archive started", applogger.String("backend", a.Config.Backend.Type))
	}

	if a.Consumer != nil && len(a.Handlers) > 0 {
		for _, h := range a.Handlers {
			a.Consumer.RegisterHandler(h)
		}
		if err := a.Consumer.Start(); err != nil {
			a.l.Error("kafka consumer start error", applogger.Error(err))
			a.shutdown()
			return err
		}
		a.l.Info("kafka consumer started", applogger.Strings("topics", a.Consumer.Topics()))
	}

	if err := a.HTTP.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		a.shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case err := <-a.HTTP.Errors():
		if err != nil {
			a.l.Error("http server failed", applogger.Error(err))
			runErr = err
		}
	}

	a.shutdown()
	return runErr
}

// shutdown stops producers of work before the stores they write to.
func (a *App) shutdown() {
	a.l.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.HTTP.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.Collector != nil {
		a.Collector.Shutdown()
	}
	a.Engine.Stop()
	a.Settlement.Stop()
	a.Controls.Shutdown()

	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.l.Warn("cache close error", applogger.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.l.Warn("database close error", applogger.Error(err))
	}

	a.l.Info("shutdown complete")
	a.l.RemoveCollector()
}
