package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// OnGalleryChanged calls fn for every gallery change notification.
func (c *Consumer) OnGalleryChanged(fn func()) error {
	sub, err := c.nc.Subscribe(GalleryChangedSubject, func(*nats.Msg) {
		fn()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", GalleryChangedSubject, err)
	}
	c.subs = append(c.subs, sub)
	slog.Info("gallery change subscription started", "subject", GalleryChangedSubject)
	return nil
}

// SkipSubject wraps next so messages published on subject are acknowledged
// without being handled.
func SkipSubject(subject string, next MessageHandler) MessageHandler {
	return func(ctx context.Context, msg jetstream.Msg) error {
		if msg.Subject() == subject {
			return nil
		}
		return next(ctx, msg)
	}
}

// ConsumeAlerts delivers new alerts from the ALERTS stream to handler
// (for the API to broadcast via WebSocket).
func (c *Consumer) ConsumeAlerts(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, AlertsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AlertsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AlertsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch alerts error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process alert error", "error", err, "subject", msg.Subject())
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("alert consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	c.nc.Close()
}
