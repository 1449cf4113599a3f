package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func newRedisStore(t *testing.T) events.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return events.RedisStore{Client: client, Stream: "test:events"}
}

func TestEmitPersistsEvent(t *testing.T) {
	store := newRedisStore(t)
	notifier := &captureNotifier{}
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
		Now:       func() time.Time { return fixed },
	}

	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicCheckoutSettled, "term-1", map[string]any{"total": "12.00"})
	require.NoError(t, err)
	require.Equal(t, events.TopicCheckoutSettled, event.Topic)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, event.ID, recent[0].ID)
	require.Equal(t, "term-1", recent[0].AggregateID)
	require.True(t, fixed.Equal(recent[0].OccurredAt))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(recent[0].Payload, &decoded))
	require.Equal(t, "12.00", decoded["total"])
}

func TestEmitWithoutStoreStillNotifies(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{notifier}}

	event, err := bus.Emit(context.Background(), events.TopicCheckoutCancelled, "term-2", nil)
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.JSONEq(t, `{}`, string(event.Payload))
	require.Len(t, notifier.events, 1)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{}
	_, err := bus.Emit(context.Background(), " ", "term", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicCheckoutFailed, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicCheckoutFailed, "term", "{not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(context.Background(), events.TopicCheckoutFailed, "term", nil)
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	boom := errors.New("boom")
	first := &captureNotifier{err: boom}
	second := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{first, second}}

	_, err := bus.Emit(context.Background(), events.TopicCheckoutFailed, "term-3", `{"reason":"insufficient funds"}`)
	require.ErrorIs(t, err, boom)
	require.Len(t, second.events, 1)
}
