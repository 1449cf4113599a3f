package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "pos:events"

// RedisStore appends events to a capped Redis stream.
type RedisStore struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

func (s RedisStore) stream() string {
	if s.Stream == "" {
		return DefaultStream
	}
	return s.Stream
}

// Append implements Store. The returned event carries the stream entry id.
func (s RedisStore) Append(ctx context.Context, event Event) (Event, error) {
	if s.Client == nil {
		return Event{}, fmt.Errorf("events: redis client not configured")
	}
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	id, err := s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream(),
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":     event.ID,
			"topic":        event.Topic,
			"aggregate_id": event.AggregateID,
			"payload":      string(event.Payload),
			"occurred_at":  event.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return Event{}, err
	}
	event.ID = id
	return event, nil
}

// Recent returns up to n events, newest first.
func (s RedisStore) Recent(ctx context.Context, n int64) ([]Event, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("events: redis client not configured")
	}
	entries, err := s.Client.XRevRangeN(ctx, s.stream(), "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(entries))
	for _, entry := range entries {
		ev := Event{ID: entry.ID}
		ev.Topic, _ = entry.Values["topic"].(string)
		ev.AggregateID, _ = entry.Values["aggregate_id"].(string)
		if payload, ok := entry.Values["payload"].(string); ok {
			ev.Payload = json.RawMessage(payload)
		}
		if ts, ok := entry.Values["occurred_at"].(string); ok {
			ev.OccurredAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		out = append(out, ev)
	}
	return out, nil
}
