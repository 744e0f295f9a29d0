package report

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sink receives a formatted report text block.
type Sink interface {
	Emit(ctx context.Context, text string) error
}

// WriterSink writes reports to an io.Writer, one block per emit.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Emit(ctx context.Context, text string) error {
	_, err := io.WriteString(s.W, text+"\n")
	return err
}

// LogSink emits reports through the logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(ctx context.Context, text string) error {
	s.Logger.Info().Str("report", text).Msg("Daily report")
	return nil
}

// RedisSink publishes reports to a pub/sub channel, where the chat-command
// layer picks them up.
type RedisSink struct {
	Client  *redis.Client
	Channel string
}

func (s RedisSink) Emit(ctx context.Context, text string) error {
	return s.Client.Publish(ctx, s.Channel, text).Err()
}
