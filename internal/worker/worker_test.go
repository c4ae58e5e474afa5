package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/bloodlink/allocator/internal/notify"
	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorker(t *testing.T, sink notify.Sink) *Worker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	w, err := New(Config{
		RedisClient:   client,
		Sink:          sink,
		Topic:         "allocation-events",
		ConsumerGroup: "relay",
	})
	require.NoError(t, err)
	return w
}

func TestHandleEventRelays(t *testing.T) {
	var got []notify.Event
	w := newWorker(t, notify.SinkFunc(func(_ context.Context, ev notify.Event) error {
		got = append(got, ev)
		return nil
	}))

	ev := notify.RequestSuperseded("H3", "R1", ledgermodels.ReasonFulfilledElsewhere, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, w.handleEvent(message.NewMessage(watermill.NewUUID(), payload)))
	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0])
}

func TestHandleEventAcksEverything(t *testing.T) {
	calls := 0
	w := newWorker(t, notify.SinkFunc(func(context.Context, notify.Event) error {
		calls++
		return errors.New("hub closed")
	}))

	// Garbage is acked without reaching the sink.
	assert.NoError(t, w.handleEvent(message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	assert.NoError(t, w.handleEvent(message.NewMessage(watermill.NewUUID(), []byte(`{}`))))
	assert.Equal(t, 0, calls)

	// Sink failures are acked too.
	payload, err := json.Marshal(notify.RequestAssigned("H1", "R1", time.Now().UTC()))
	require.NoError(t, err)
	assert.NoError(t, w.handleEvent(message.NewMessage(watermill.NewUUID(), payload)))
	assert.Equal(t, 1, calls)
}

func TestQueueStatsOnEmptyStream(t *testing.T) {
	w := newWorker(t, notify.SinkFunc(func(context.Context, notify.Event) error { return nil }))
	stats, err := w.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, QueueStats{}, stats)
}
