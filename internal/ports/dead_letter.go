package ports

import (
	"context"

	"github.com/bft-labs/notibatch/internal/domain"
)

// DeadLetterSink receives messages that failed delivery more often than the
// configured retry cap allows. The batcher does not retry a failing sink.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, recipient string, msgs []domain.Message, cause error) error
}
