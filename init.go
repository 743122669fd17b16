package main

import (
	"context"
	"fmt"

	broker "github.com/tournevent/fulfillment/internal/broker/kafka"
	"github.com/tournevent/fulfillment/internal/cache/rediscache"
	"github.com/tournevent/fulfillment/internal/config"
	"github.com/tournevent/fulfillment/internal/server"
	"github.com/tournevent/fulfillment/internal/storage/postgres"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/options"
	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/tournevent/fulfillment/pkg/shipper/canadapost"
	"github.com/tournevent/fulfillment/pkg/shipper/fastway"
	"github.com/tournevent/fulfillment/pkg/shipper/sendcloud"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// orderStore both feeds orders to the coordinator and ingests them over
// HTTP.
type orderStore interface {
	fulfillment.OrderSource
	server.OrderWriter
}

// app is the wired service shared by every command.
type app struct {
	cfg      *config.Config
	profiles *config.Profiles
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer

	rates       rates.Store
	orders      orderStore
	engine      *rates.Engine
	registry    *shipper.Registry
	aggregator  *options.Aggregator
	coordinator *fulfillment.Coordinator
	producer    *broker.Producer
	pingers     map[string]server.Pinger

	closers []func()
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel,
		zap.String("service", cfg.Telemetry.ServiceName),
		zap.String("version", cfg.Telemetry.Version),
	)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Telemetry.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	_, shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.Version, cfg.Attributes()...)
	return shutdown, err
}

// newApp wires stores, carriers and the lifecycle coordinator from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (*app, error) {
	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}
	base, err := cfg.Units.Base()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		profiles: profiles,
		logger:   logger,
		metrics:  telemetry.NewMetrics(nil),
		tracer:   otel.Tracer(cfg.Telemetry.ServiceName),
		pingers:  make(map[string]server.Pinger),
	}

	var (
		shipments fulfillment.Store
		recorder  shipper.DetailsRecorder
	)
	if cfg.Storage.DatabaseURL != "" {
		db, err := postgres.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.pingers["postgres"] = db
		a.rates, shipments, a.orders, recorder = db, db, db, db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		mem := fulfillment.NewMemoryStore()
		a.rates, shipments, a.orders, recorder = rates.NewMemoryStore(), mem, fulfillment.NewMemoryOrders(), mem
	}

	if cfg.Storage.RedisAddr != "" {
		cache := rediscache.New(cfg.Storage.RedisAddr)
		a.closers = append(a.closers, func() { _ = cache.Close() })
		a.pingers["redis"] = cache
		a.rates = rediscache.NewRateStore(a.rates, cache, cfg.Storage.RateCacheTTL, logger)
	}

	a.engine = rates.NewEngine(a.rates, logger, rates.WithStrictMatching(cfg.Rates.StrictMatching))
	deps := shipper.Deps{Engine: a.engine, Store: a.rates, Recorder: recorder, Units: base}
	a.registry = initShipperRegistry(cfg, profiles, deps, logger, a.tracer)
	if a.registry.Count() == 0 {
		logger.Warn("No carriers enabled")
	}

	a.aggregator = options.New(a.registry, logger, a.metrics,
		options.WithReturnValidOptionsIfAny(cfg.Checkout.ReturnValidOptionsIfAny))

	coordOpts := []fulfillment.Option{
		fulfillment.WithMetrics(a.metrics),
		fulfillment.WithTracer(a.tracer),
		fulfillment.WithLease(cfg.Worker.Lease),
	}
	if len(cfg.Storage.KafkaBrokers) > 0 {
		a.producer = broker.NewProducer(cfg.Storage.KafkaBrokers, cfg.Storage.EventsTopic, cfg.Storage.CommandsTopic)
		a.closers = append(a.closers, func() { _ = a.producer.Close() })
		coordOpts = append(coordOpts, fulfillment.WithPublisher(a.producer))
	}
	a.coordinator = fulfillment.New(shipments, a.orders, a.registry, a.engine, logger, coordOpts...)

	logger.Info("Service wired",
		zap.Strings("carriers", a.registry.Names()),
		zap.Bool("postgres", cfg.Storage.DatabaseURL != ""),
		zap.Bool("redis", cfg.Storage.RedisAddr != ""),
		zap.Bool("kafka", a.producer != nil),
	)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) server() *server.Server {
	deps := server.Deps{
		Registry:    a.registry,
		Aggregator:  a.aggregator,
		Coordinator: a.coordinator,
		Orders:      a.orders,
		Packaging:   a.profiles.PackagingOption,
		Pingers:     a.pingers,
		Metrics:     a.metrics,
	}
	if a.producer != nil {
		deps.Enqueuer = a.producer
	}
	return server.New(server.Config{Port: a.cfg.Port}, deps, a.logger)
}

func initShipperRegistry(cfg *config.Config, profiles *config.Profiles, deps shipper.Deps, logger *otelzap.Logger, tracer trace.Tracer) *shipper.Registry {
	registry := shipper.NewRegistry(logger)

	if cfg.SendCloud.Enabled {
		p := profiles.Carrier("sendcloud")
		registry.Register(sendcloud.New(sendcloud.Config{
			APIKey:           cfg.SendCloud.APIKey,
			APISecret:        cfg.SendCloud.APISecret,
			BaseURL:          cfg.SendCloud.BaseURL,
			ServicePointURL:  cfg.SendCloud.ServicePointURL,
			SenderAddressID:  cfg.SendCloud.SenderAddressID,
			DefaultRecipient: p.Recipient.Shipper(),
			Currency:         cfg.SendCloud.Currency,
			UseMock:          cfg.SendCloud.UseMock,
		}, deps, logger, tracer))
	}

	if cfg.CanadaPost.Enabled {
		p := profiles.Carrier("canadapost")
		registry.Register(canadapost.New(canadapost.Config{
			APIKey:           cfg.CanadaPost.APIKey,
			APISecret:        cfg.CanadaPost.APISecret,
			BaseURL:          cfg.CanadaPost.BaseURL,
			CustomerNumber:   cfg.CanadaPost.CustomerNumber,
			ContractID:       cfg.CanadaPost.ContractID,
			ManifestEnabled:  cfg.CanadaPost.ManifestEnabled,
			GroupID:          cfg.CanadaPost.GroupID,
			DefaultSender:    p.Sender.Shipper(),
			DefaultRecipient: p.Recipient.Shipper(),
			Currency:         cfg.CanadaPost.Currency,
			UseMock:          cfg.CanadaPost.UseMock,
		}, deps, logger, tracer))
	}

	if cfg.Fastway.Enabled {
		p := profiles.Carrier("fastway")
		registry.Register(fastway.New(fastway.Config{
			APIKey:           cfg.Fastway.APIKey,
			BaseURL:          cfg.Fastway.BaseURL,
			Franchise:        cfg.Fastway.Franchise,
			CountryCode:      cfg.Fastway.CountryCode,
			CountryID:        cfg.Fastway.CountryID,
			DefaultRecipient: p.Recipient.Shipper(),
			Currency:         cfg.Fastway.Currency,
			UseMock:          cfg.Fastway.UseMock,
		}, deps, logger, tracer))
	}

	return registry
}
