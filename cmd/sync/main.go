package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marketbase/fulfillment/internal/catalog"
	"github.com/marketbase/fulfillment/internal/clock"
	"github.com/marketbase/fulfillment/internal/ledger"
	"github.com/marketbase/fulfillment/internal/messaging"
	"github.com/marketbase/fulfillment/internal/orders"
	"github.com/marketbase/fulfillment/internal/shipping"
	"github.com/marketbase/fulfillment/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "fulfillment-sync", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("fulfillment-sync", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}
	carrierURL := os.Getenv("CARRIER_API_URL")
	if carrierURL == "" {
		logger.Error("CARRIER_API_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var confirmedPublisher orders.Publisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), messaging.TopicOrderConfirmed)
		defer func() { _ = producer.Close() }()
		confirmedPublisher = producer
	}

	clk := clock.System{}
	ledgerRepo := ledger.NewRepository(db, clk)
	catalogRepo := catalog.NewRepository(db)
	orderRepo := orders.NewRepository(db, catalogRepo)
	shipmentRepo := shipping.NewRepository(db)

	orderService := orders.NewService(orders.ServiceConfig{
		Store:              orderRepo,
		Ledger:             ledgerRepo,
		Catalog:            catalogRepo,
		ConfirmedPublisher: confirmedPublisher,
		Clock:              clk,
		Logger:             logger,
	})

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	carrier := shipping.NewCarrierClient(carrierURL, httpClient)
	syncer := shipping.NewSyncer(shipmentRepo, carrier, orderService, clk, logger)

	syncInterval := durationEnv("SHIPMENT_SYNC_INTERVAL", 10*time.Minute, logger)
	confirmInterval := durationEnv("AUTO_CONFIRM_INTERVAL", time.Hour, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	go serveMetrics(metricsHandler, logger)

	go runEvery(runCtx, confirmInterval, func() {
		count, err := orderService.AutoConfirmDelivered(runCtx)
		if err != nil {
			logger.Error("auto-confirm pass failed", "error", err)
			return
		}
		if count > 0 {
			logger.Info("auto-confirmed delivered orders", "count", count)
		}
	})

	logger.Info("starting shipment sync",
		"sync_interval", syncInterval, "confirm_interval", confirmInterval)

	runEvery(runCtx, syncInterval, func() {
		if err := syncer.Run(runCtx); err != nil {
			logger.Error("shipment sync pass failed", "error", err)
		}
	})
}

// runEvery runs fn immediately and then on every tick until the context is
// cancelled.
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func durationEnv(name string, fallback time.Duration, logger *slog.Logger) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Error("invalid duration, using default", "name", name, "value", raw, "default", fallback)
		return fallback
	}
	return d
}

func serveMetrics(handler http.Handler, logger *slog.Logger) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("metrics server error", "error", err)
	}
}
