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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marketbase/fulfillment/internal/messaging"
	"github.com/marketbase/fulfillment/internal/telemetry"
	"github.com/marketbase/fulfillment/internal/worker"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "fulfillment-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")
	paidConsumer := messaging.NewConsumer(brokers, messaging.TopicOrderPaid, "notification-worker")
	defer func() { _ = paidConsumer.Close() }()
	confirmedConsumer := messaging.NewConsumer(brokers, messaging.TopicOrderConfirmed, "notification-worker")
	defer func() { _ = confirmedConsumer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	handler := worker.NewNotificationHandler(emailServiceURL, httpClient, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", brokers)

	errs := make(chan error, 2)
	go func() { errs <- paidConsumer.Consume(runCtx, handler.HandleOrderPaid) }()
	go func() { errs <- confirmedConsumer.Consume(runCtx, handler.HandleOrderConfirmed) }()

	if err := <-errs; err != nil {
		if runCtx.Err() != nil {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
