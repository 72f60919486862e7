// Package notibatch provides an adaptive per-recipient message batcher.
//
// Example usage:
//
//	b, err := notibatch.New(notibatch.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b.Enqueue("user-42", notibatch.Message{Kind: "chat", Priority: 1}, deliver)
//
// The full embedding API lives in github.com/bft-labs/notibatch/pkg/notibatch.
package notibatch

import "github.com/bft-labs/notibatch/pkg/notibatch"

// Batcher accumulates messages per recipient and delivers them in batches.
type Batcher = notibatch.Batcher

// Config holds the batching parameters.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = notibatch.Config

// Message is a single notification addressed to a recipient.
type Message = notibatch.Message

// Option configures optional behavior of a Batcher.
type Option = notibatch.Option

// New validates cfg and creates a Batcher.
func New(cfg Config, opts ...Option) (*Batcher, error) {
	return notibatch.New(cfg, opts...)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return notibatch.DefaultConfig()
}
