package messaging

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("fulfillment/messaging/consumer")

// Handler processes one raw event payload. Returning an error aborts the
// consume loop before the message offset is committed, so the message is
// redelivered; handlers that want at-most-once delivery absorb their own
// failures.
type Handler func(ctx context.Context, payload []byte) error

// Consumer reads one topic as part of a consumer group, running each message
// through a handler inside a consumer span extracted from the producer's
// trace context.
type Consumer struct {
	topic   string
	groupID string
	reader  *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		topic:   topic,
		groupID: groupID,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
	}
}

// Consume blocks until the context is cancelled, the reader is closed, or a
// handler fails. A clean shutdown returns nil.
func (c *Consumer) Consume(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := c.dispatch(ctx, msg, handle); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message, handle Handler) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &msg})

	ctx, span := consumerTracer.Start(ctx, c.topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if err := handle(ctx, msg.Value); err != nil {
		endSpan(span, err)
		return err
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
