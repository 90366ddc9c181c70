package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/permit-api/internal/models"
)

// DefaultTransitionStream is the stream key transition events are appended to.
const DefaultTransitionStream = "permit:transitions"

// EventStreamRepository appends workflow events to a Redis stream.
type EventStreamRepository struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewEventStreamRepository constructs the repository. maxLen bounds the stream approximately; 0 keeps everything.
func NewEventStreamRepository(client *redis.Client, stream string, maxLen int64) *EventStreamRepository {
	if stream == "" {
		stream = DefaultTransitionStream
	}
	return &EventStreamRepository{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the configured stream key.
func (r *EventStreamRepository) Stream() string {
	return r.stream
}

// PublishTransition appends the event and returns its stream id.
func (r *EventStreamRepository) PublishTransition(ctx context.Context, event models.TransitionEvent) (string, error) {
	if r.client == nil {
		return "", nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal transition event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"applicationId": event.ApplicationID,
			"action":        event.Action,
			"toStage":       string(event.ToStage),
			"data":          string(payload),
			"timestamp":     event.OccurredAt.Unix(),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return id, nil
}

// Recent reads up to count events newest first.
func (r *EventStreamRepository) Recent(ctx context.Context, count int64) ([]models.TransitionEvent, error) {
	if r.client == nil {
		return nil, nil
	}
	if count <= 0 {
		count = 50
	}
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", r.stream, err)
	}
	events := make([]models.TransitionEvent, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var event models.TransitionEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
