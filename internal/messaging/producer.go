package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var producerTracer = otel.Tracer("fulfillment/messaging/producer")

// Producer publishes JSON-encoded order events to a single topic. The
// producer span's context is injected into the message headers so the
// notification worker can link its consumer span to the originating request.
type Producer struct {
	topic  string
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           250 * time.Millisecond,
	}
	return &Producer{topic: topic, writer: w}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	ctx, span := producerTracer.Start(ctx, p.topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("publish"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(key),
		),
	)
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		err = fmt.Errorf("encode %s event: %w", p.topic, err)
		endSpan(span, err)
		return err
	}

	msg := kafka.Message{Key: []byte(key), Value: payload}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		endSpan(span, err)
		return fmt.Errorf("write %s event: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
