// Package redis stores messages that exhausted their delivery retries in a
// Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bft-labs/notibatch/internal/domain"
)

// DefaultStream is the stream dead letters are appended to.
const DefaultStream = "notibatch:dead-letters"

// DefaultMaxLen approximately caps the stream length.
const DefaultMaxLen = 100_000

// StreamAdder is the subset of redis.Cmdable used by DeadLetterStream.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// DeadLetterStream implements ports.DeadLetterSink with XADD.
type DeadLetterStream struct {
	client StreamAdder
	stream string
	maxLen int64
}

// NewDeadLetterStream appends to stream, trimming it to about maxLen entries.
// Empty or zero arguments select the defaults.
func NewDeadLetterStream(client StreamAdder, stream string, maxLen int64) *DeadLetterStream {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &DeadLetterStream{client: client, stream: stream, maxLen: maxLen}
}

// Connect creates a client for url (redis://...) and checks connectivity.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

// DeadLetter appends one stream entry per message.
func (d *DeadLetterStream) DeadLetter(ctx context.Context, recipient string, msgs []domain.Message, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	var errs []error
	for _, msg := range msgs {
		encoded, err := json.Marshal(msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode message %s: %w", msg.ID, err))
			continue
		}

		args := &redis.XAddArgs{
			Stream: d.stream,
			ID:     "*",
			MaxLen: d.maxLen,
			Approx: true,
			Values: map[string]any{
				"recipient": recipient,
				"id":        msg.ID,
				"kind":      msg.Kind,
				"attempts":  msg.Attempts,
				"error":     reason,
				"message":   string(encoded),
			},
		}
		if err := d.client.XAdd(ctx, args).Err(); err != nil {
			errs = append(errs, fmt.Errorf("add message %s to %s: %w", msg.ID, d.stream, err))
		}
	}
	return errors.Join(errs...)
}
