package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/options"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Enqueuer queues fulfillment commands for the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, cmd fulfillment.Command) error
}

// OrderWriter stores the host orders shipments are created for.
type OrderWriter interface {
	PutOrder(ctx context.Context, o *shipper.Order) error
}

// PackagingLookup resolves a named packaging option.
type PackagingLookup func(name string) *shipper.PackagingOption

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the fulfillment service.
type Server struct {
	port        int
	registry    *shipper.Registry
	aggregator  *options.Aggregator
	coordinator *fulfillment.Coordinator
	enqueuer    Enqueuer
	orders      OrderWriter
	packaging   PackagingLookup
	pingers     map[string]Pinger
	logger      *otelzap.Logger
	metrics     *telemetry.Metrics
}

// Config holds server configuration.
type Config struct {
	Port int
}

// Deps are the components the server exposes. Enqueuer, Orders, Packaging
// and Pingers are optional.
type Deps struct {
	Registry    *shipper.Registry
	Aggregator  *options.Aggregator
	Coordinator *fulfillment.Coordinator
	Enqueuer    Enqueuer
	Orders      OrderWriter
	Packaging   PackagingLookup
	Pingers     map[string]Pinger
	Metrics     *telemetry.Metrics
}

// New creates a new server instance.
func New(cfg Config, deps Deps, logger *otelzap.Logger) *Server {
	packaging := deps.Packaging
	if packaging == nil {
		packaging = func(string) *shipper.PackagingOption { return nil }
	}
	return &Server{
		port:        cfg.Port,
		registry:    deps.Registry,
		aggregator:  deps.Aggregator,
		coordinator: deps.Coordinator,
		enqueuer:    deps.Enqueuer,
		orders:      deps.Orders,
		packaging:   packaging,
		pingers:     deps.Pingers,
		logger:      logger,
		metrics:     deps.Metrics,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/options", s.handleGetOptions)
		if s.orders != nil {
			r.Put("/orders/{id}", s.handlePutOrder)
		}

		r.Post("/shipments", s.handleCreateShipment)
		r.Get("/shipments/{id}", s.handleGetShipment)
		r.Post("/shipments/{id}/submit", s.handleSubmitShipment)
		r.Post("/shipments/{id}/cancel", s.handleCancelShipment)

		r.Get("/carriers", s.handleListCarriers)
		r.Post("/carriers/{carrier}/manifest", s.handleTransmitManifest)
		r.Get("/carriers/{carrier}/validate", s.handleValidateConfiguration)
		r.Post("/carriers/{carrier}/sync", s.handleSyncCatalogue)
	})
	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
