package app

import (
	"context"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...ports.Field) {}
func (noopLogger) Info(msg string, fields ...ports.Field)  {}
func (noopLogger) Warn(msg string, fields ...ports.Field)  {}
func (noopLogger) Error(msg string, fields ...ports.Field) {}

type noopRecorder struct{}

func (noopRecorder) Record(string, ...ports.Field) {}

// zeroMemory reports no memory pressure; adaptive shrinking never triggers.
type zeroMemory struct{}

func (zeroMemory) UsagePercent() float64 { return 0 }

// loggingDeadLetters logs exhausted messages and discards them.
type loggingDeadLetters struct {
	logger ports.Logger
}

func (d loggingDeadLetters) DeadLetter(_ context.Context, recipient string, msgs []domain.Message, cause error) error {
	d.logger.Warn("dropping messages after retries exhausted",
		ports.String("recipient", recipient),
		ports.Int("messages", len(msgs)),
		ports.Err(cause),
	)
	return nil
}
