package worker

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

// Config configures the worker.
type Config struct {
	RedisClient   redis.UniversalClient
	Sink          notify.Sink
	Topic         string
	ConsumerGroup string
	Timeout       time.Duration // per-event delivery deadline (default: 5s)
	Logger        *zap.Logger
}

// QueueStats holds queue statistics.
type QueueStats struct {
	StreamLength int64
	Pending      int64
	Consumers    int64
}

// Worker consumes allocation events from Redis Streams and relays them to a
// sink, normally the websocket hub. Every message is acked: delivery is
// at-most-once.
type Worker struct {
	router        *message.Router
	sink          notify.Sink
	redisClient   redis.UniversalClient
	topic         string
	consumerGroup string
	timeout       time.Duration
	logger        *zap.Logger
}

// New creates a new Worker.
func New(cfg Config) (*Worker, error) {
	wmLogger := watermill.NewSlogLogger(nil)

	sub, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        cfg.RedisClient,
			ConsumerGroup: cfg.ConsumerGroup,
		},
		wmLogger,
	)
	if err != nil {
		return nil, err
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	w := &Worker{
		router:        router,
		sink:          cfg.Sink,
		redisClient:   cfg.RedisClient,
		topic:         cfg.Topic,
		consumerGroup: cfg.ConsumerGroup,
		timeout:       cfg.Timeout,
		logger:        cfg.Logger.With(zap.String("component", "worker")),
	}

	router.AddNoPublisherHandler(
		"relay-events",
		cfg.Topic,
		sub,
		w.handleEvent,
	)

	return w, nil
}

// handleEvent relays a single event message.
func (w *Worker) handleEvent(msg *message.Message) error {
	start := time.Now()
	msgUUID := msg.UUID

	var ev notify.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.Kind == "" {
		w.logger.Warn("worker invalid payload",
			zap.String("msg_uuid", msgUUID),
			zap.Int("len", len(msg.Payload)),
			zap.Error(err),
		)
		return nil // ack invalid messages to avoid infinite retry
	}

	ctx, cancel := context.WithTimeout(msg.Context(), w.timeout)
	defer cancel()

	if err := w.sink.Deliver(ctx, ev); err != nil {
		w.logger.Warn("worker relay failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("room", ev.Room()),
			zap.String("msg_uuid", msgUUID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil // events are best-effort, never redelivered
	}

	w.logger.Debug("worker relay done",
		zap.String("kind", string(ev.Kind)),
		zap.String("room", ev.Room()),
		zap.String("msg_uuid", msgUUID),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Run starts the worker. It blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.router.Run(ctx)
}

// Close closes the worker.
func (w *Worker) Close() error {
	return w.router.Close()
}

// QueueStats returns current queue statistics.
func (w *Worker) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats

	length, err := w.redisClient.XLen(ctx, w.topic).Result()
	if err != nil {
		return stats, err
	}
	stats.StreamLength = length

	groups, err := w.redisClient.XInfoGroups(ctx, w.topic).Result()
	if err != nil {
		// Stream might not exist yet
		return stats, nil
	}

	for _, g := range groups {
		if g.Name == w.consumerGroup {
			stats.Pending = g.Pending
			stats.Consumers = g.Consumers
			break
		}
	}

	return stats, nil
}

// LogQueueStats logs current queue statistics.
func (w *Worker) LogQueueStats(ctx context.Context) {
	stats, err := w.QueueStats(ctx)
	if err != nil {
		w.logger.Warn("worker queue stats error", zap.Error(err))
		return
	}

	w.logger.Info("worker queue stats",
		zap.Int64("stream_length", stats.StreamLength),
		zap.Int64("pending", stats.Pending),
		zap.Int64("consumers", stats.Consumers),
	)
}
