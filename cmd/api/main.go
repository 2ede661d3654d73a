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
	"github.com/marketbase/fulfillment/internal/feedback"
	"github.com/marketbase/fulfillment/internal/ledger"
	"github.com/marketbase/fulfillment/internal/messaging"
	"github.com/marketbase/fulfillment/internal/orders"
	"github.com/marketbase/fulfillment/internal/payment"
	"github.com/marketbase/fulfillment/internal/settlement"
	"github.com/marketbase/fulfillment/internal/shipping"
	"github.com/marketbase/fulfillment/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "fulfillment-api", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("fulfillment-api", "0.1.0")
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

	gatewayURL := os.Getenv("PAYMENT_GATEWAY_URL")
	if gatewayURL == "" {
		logger.Error("PAYMENT_GATEWAY_URL environment variable is required")
		os.Exit(1)
	}
	gatewaySecret := os.Getenv("PAYMENT_GATEWAY_SECRET")
	if gatewaySecret == "" {
		logger.Error("PAYMENT_GATEWAY_SECRET environment variable is required")
		os.Exit(1)
	}
	addressServiceURL := os.Getenv("ADDRESS_SERVICE_URL")
	if addressServiceURL == "" {
		logger.Error("ADDRESS_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	var paidPublisher, confirmedPublisher orders.Publisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")

		paid := messaging.NewProducer(brokers, messaging.TopicOrderPaid)
		defer func() { _ = paid.Close() }()
		paidPublisher = paid

		confirmed := messaging.NewProducer(brokers, messaging.TopicOrderConfirmed)
		defer func() { _ = confirmed.Close() }()
		confirmedPublisher = confirmed
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	clk := clock.System{}

	ledgerRepo := ledger.NewRepository(db, clk)
	catalogRepo := catalog.NewRepository(db)
	orderRepo := orders.NewRepository(db, catalogRepo)
	shipmentRepo := shipping.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	feedbackRepo := feedback.NewRepository(db, ledgerRepo)
	settlementRepo := settlement.NewRepository(db)

	orderService := orders.NewService(orders.ServiceConfig{
		Store:              orderRepo,
		Ledger:             ledgerRepo,
		Catalog:            catalogRepo,
		Addresses:          orders.NewAddressClient(addressServiceURL, httpClient),
		PaidPublisher:      paidPublisher,
		ConfirmedPublisher: confirmedPublisher,
		Clock:              clk,
		Logger:             logger,
	})
	paymentService := payment.NewService(paymentRepo,
		orderService, payment.NewGatewayClient(gatewayURL, gatewaySecret, httpClient), clk, logger)
	feedbackService := feedback.NewService(feedbackRepo, orderRepo, shipmentRepo, clk, logger)

	ledgerHandler := ledger.NewHandler(ledgerRepo, logger)
	orderHandler := orders.NewHandler(orderService, logger)
	paymentHandler := payment.NewHandler(paymentService, logger)
	shipmentHandler := shipping.NewHandler(shipmentRepo, orderService, clk, logger)
	feedbackHandler := feedback.NewHandler(feedbackService, logger)
	settlementHandler := settlement.NewHandler(settlementRepo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(orderHandler.HandleCheckout))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/export", telemetry.WithHTTPRoute(orderHandler.HandleExport))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("POST /orders/{id}/confirm", telemetry.WithHTTPRoute(orderHandler.HandleConfirm))
	mux.HandleFunc("POST /orders/{id}/shipments", telemetry.WithHTTPRoute(shipmentHandler.HandleRegister))
	mux.HandleFunc("GET /orders/{id}/shipments", telemetry.WithHTTPRoute(shipmentHandler.HandleListByOrder))
	mux.HandleFunc("POST /payments/confirm", telemetry.WithHTTPRoute(paymentHandler.HandleConfirm))
	mux.HandleFunc("POST /payments/fail", telemetry.WithHTTPRoute(paymentHandler.HandleFail))
	mux.HandleFunc("GET /users/{userId}/points/balance", telemetry.WithHTTPRoute(ledgerHandler.HandleBalance))
	mux.HandleFunc("GET /users/{userId}/points/entries", telemetry.WithHTTPRoute(ledgerHandler.HandleEntries))
	mux.HandleFunc("POST /redemptions", telemetry.WithHTTPRoute(ledgerHandler.HandleRequestRedemption))
	mux.HandleFunc("POST /redemptions/{id}/approve", telemetry.WithHTTPRoute(ledgerHandler.HandleApproveRedemption))
	mux.HandleFunc("POST /redemptions/{id}/reject", telemetry.WithHTTPRoute(ledgerHandler.HandleRejectRedemption))
	mux.HandleFunc("POST /feedback", telemetry.WithHTTPRoute(feedbackHandler.HandleSubmit))
	mux.HandleFunc("GET /products/{id}/feedback", telemetry.WithHTTPRoute(feedbackHandler.HandleListByProduct))
	mux.HandleFunc("GET /settlements", telemetry.WithHTTPRoute(settlementHandler.HandleDaily))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "fulfillment-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting fulfillment api", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
