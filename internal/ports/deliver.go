package ports

import (
	"context"

	"github.com/bft-labs/notibatch/internal/domain"
)

// DeliverFunc hands one batch for a single recipient to the transport.
// A nil error marks the batch delivered; any error sends it down the retry path.
// The batch slice belongs to the callee for the duration of the call only.
// Implementations may be invoked concurrently for different recipients but
// never concurrently for the same one.
type DeliverFunc func(ctx context.Context, batch []domain.Message) error

// FlushFunc delivers the residual queue of a recipient during FlushAll.
type FlushFunc func(ctx context.Context, recipient string, batch []domain.Message) error
