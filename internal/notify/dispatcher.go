package notify

import (
	"context"
	"time"

	"github.com/bloodlink/allocator/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DispatcherConfig tunes the asynchronous dispatcher.
type DispatcherConfig struct {
	Buffer  int           // queued events before new ones are dropped (default: 1024)
	Workers int           // concurrent deliveries (default: 4)
	Timeout time.Duration // per-delivery deadline (default: 5s)
}

// Dispatcher is a Notifier that queues events and delivers them to a Sink
// from a fixed pool of workers. When the queue is full the event is dropped.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	workers int
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. Events are only delivered while Run is active.
func NewDispatcher(sink Sink, logger *zap.Logger, m *metrics.Metrics, cfg DispatcherConfig) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, cfg.Buffer),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		logger:  logger.With(zap.String("component", "notify")),
		metrics: m,
	}
}

var _ Notifier = (*Dispatcher)(nil)

// Notify enqueues ev. It never blocks.
func (d *Dispatcher) Notify(_ context.Context, ev Event) {
	select {
	case d.queue <- ev:
	default:
		d.metrics.IncNotificationDropped()
		d.logger.Warn("notification queue full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("room", ev.Room()),
			zap.String("request_id", ev.RequestID),
		)
	}
}

// Run delivers queued events until ctx is cancelled. Events still queued at
// that point are discarded.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("starting notification dispatcher",
		zap.Int("workers", d.workers),
		zap.Int("buffer", cap(d.queue)),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-d.queue:
					d.deliver(ctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, ev); err != nil {
		d.metrics.IncNotificationFailed()
		d.logger.Warn("notification delivery failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("room", ev.Room()),
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
		return
	}
	d.metrics.IncNotificationSent()
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
