package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cartaway/checkout/internal/order/application"
	"github.com/cartaway/checkout/internal/order/domain"
	"github.com/cartaway/checkout/pkg/idempotency"
	"github.com/cartaway/checkout/pkg/tracing"
)

// paymentEvent is the wire shape published by the external payment provider.
type paymentEvent struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// Consumer applies payment status signals to orders. Payment state is opaque
// here: it never drives the fulfillment status machine.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		key := c.idem.MessageKey(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentStatus")

		var event paymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.Error("unmarshal failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := c.svc.MarkPaymentStatus(msgCtx, event.OrderID, domain.PaymentStatus(event.Status)); err != nil {
			c.log.Error("payment status update failed", "order_id", event.OrderID, "status", event.Status, "err", err)
		} else {
			c.log.Info("payment status applied", "order_id", event.OrderID, "status", event.Status)
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}
