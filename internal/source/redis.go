// Package source delivers presence transitions to the tracker. The wire
// transport that watches the chat platform publishes JSON events onto a
// Redis pub/sub channel; this package is the subscribing end.
package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tickwise/presenced/internal/metrics"
	"github.com/tickwise/presenced/internal/presence"
)

// Handler consumes classified presence events in receipt order.
type Handler interface {
	HandleEvent(ctx context.Context, ev presence.Event)
}

// wireEvent is the published JSON shape. Statuses arrive as loose strings
// and are classified before they reach the handler.
type wireEvent struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Timestamp      time.Time `json:"timestamp"`
}

// Redis subscribes to a pub/sub channel of presence events.
type Redis struct {
	client  *redis.Client
	channel string
	handler Handler
	logger  zerolog.Logger
}

// NewRedis creates a redis-backed event source.
func NewRedis(client *redis.Client, channel string, handler Handler, logger zerolog.Logger) *Redis {
	return &Redis{
		client:  client,
		channel: channel,
		handler: handler,
		logger:  logger.With().Str("component", "presence-source").Logger(),
	}
}

// Run consumes events until ctx is canceled. Malformed payloads are logged
// and dropped; they never stop the loop.
func (s *Redis) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = sub.Close() }()

	// Force the subscription before reporting started.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	s.logger.Info().Str("channel", s.channel).Msg("Presence source subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(ctx, msg.Payload)
		}
	}
}

func (s *Redis) dispatch(ctx context.Context, payload string) {
	var wire wireEvent
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed presence event")
		metrics.EventsReceived.WithLabelValues("malformed").Inc()
		return
	}
	if wire.UserID == "" {
		s.logger.Warn().Msg("Dropping presence event without user_id")
		metrics.EventsReceived.WithLabelValues("malformed").Inc()
		return
	}

	at := wire.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	ev := presence.Event{
		UserID:   wire.UserID,
		Username: wire.Username,
		Previous: presence.Classify(wire.PreviousStatus),
		Current:  presence.Classify(wire.NewStatus),
		At:       at,
	}

	s.handler.HandleEvent(ctx, ev)
	metrics.EventsReceived.WithLabelValues("ok").Inc()

	s.logger.Debug().
		Str("user_id", ev.UserID).
		Str("previous", ev.Previous.String()).
		Str("current", ev.Current.String()).
		Msg("Presence event dispatched")
}
