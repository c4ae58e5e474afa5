package publisher

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bloodlink/allocator/internal/notify"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher publishes allocation events to a Redis Stream. It is the
// notify.Sink used when delivery happens in a separate relay worker.
type Publisher struct {
	pub         message.Publisher
	redisClient redis.UniversalClient
	topic       string
	logger      *zap.Logger
}

// New creates a new Publisher.
func New(redisClient redis.UniversalClient, topic string, logger *zap.Logger) (*Publisher, error) {
	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewSlogLogger(nil),
	)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Publisher{
		pub:         pub,
		redisClient: redisClient,
		topic:       topic,
		logger:      logger.With(zap.String("component", "publisher")),
	}, nil
}

var _ notify.Sink = (*Publisher)(nil)

// Deliver publishes one event to the stream.
func (p *Publisher) Deliver(ctx context.Context, ev notify.Event) error {
	start := time.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msgUUID := watermill.NewUUID()
	msg := message.NewMessage(msgUUID, payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("room", ev.Room())
	msg.SetContext(ctx)

	err = p.pub.Publish(p.topic, msg)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("redis publish failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("request_id", ev.RequestID),
			zap.String("msg_uuid", msgUUID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	p.logger.Debug("redis publish ok",
		zap.String("kind", string(ev.Kind)),
		zap.String("request_id", ev.RequestID),
		zap.String("msg_uuid", msgUUID),
		zap.Duration("duration", duration),
	)
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

// QueueLength returns the number of messages in the Redis stream.
func (p *Publisher) QueueLength(ctx context.Context) (int64, error) {
	return p.redisClient.XLen(ctx, p.topic).Result()
}

// Topic returns the Redis stream topic name.
func (p *Publisher) Topic() string {
	return p.topic
}
