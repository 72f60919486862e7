// Package websocket delivers batches to recipients connected over websockets.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/olahol/melody"
	"github.com/sony/gobreaker"

	"github.com/bft-labs/notibatch/internal/compression"
	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

const recipientKey = "recipient"

// FrameTypeBatch is the type of every frame carrying messages.
const FrameTypeBatch = "batch"

// Frame is the JSON document written to a session per delivered batch.
type Frame struct {
	Type      string           `json:"type"`
	Recipient string           `json:"recipient"`
	Count     int              `json:"count"`
	Messages  []domain.Message `json:"messages"`
}

// Options configures a Hub.
type Options struct {
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration

	// BreakerFailures is the number of consecutive failed deliveries that
	// opens the circuit breaker.
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration

	// Codec, when set, compresses large frames that shrink enough; those are
	// sent as binary messages.
	Codec ports.Compressor
}

// Hub tracks websocket sessions per recipient and writes batches to them.
type Hub struct {
	m       *melody.Melody
	breaker *gobreaker.CircuitBreaker
	codec   ports.Compressor
	logger  ports.Logger

	mu       sync.RWMutex
	sessions map[string]map[*melody.Session]struct{}
}

// NewHub creates a hub.
func NewHub(opts Options, logger ports.Logger) *Hub {
	m := melody.New()
	if opts.WriteTimeout > 0 {
		m.Config.WriteWait = opts.WriteTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	h := &Hub{
		m:        m,
		codec:    opts.Codec,
		logger:   logger,
		sessions: make(map[string]map[*melody.Session]struct{}),
	}

	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "websocket",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// An absent recipient says nothing about the transport.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrRecipientOffline)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("delivery circuit breaker state changed",
				ports.String("breaker", name),
				ports.String("from", from.String()),
				ports.String("to", to.String()),
			)
		},
	})

	m.HandleConnect(h.connect)
	m.HandleDisconnect(h.disconnect)
	return h
}

// ServeRecipient upgrades the request to a websocket session bound to recipient.
func (h *Hub) ServeRecipient(w http.ResponseWriter, r *http.Request, recipient string) error {
	return h.m.HandleRequestWithKeys(w, r, map[string]any{recipientKey: recipient})
}

func (h *Hub) connect(s *melody.Session) {
	recipient := s.Keys[recipientKey].(string)

	h.mu.Lock()
	set, ok := h.sessions[recipient]
	if !ok {
		set = make(map[*melody.Session]struct{})
		h.sessions[recipient] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("websocket connected", ports.String("recipient", recipient))
}

func (h *Hub) disconnect(s *melody.Session) {
	recipient := s.Keys[recipientKey].(string)

	h.mu.Lock()
	if set, ok := h.sessions[recipient]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, recipient)
		}
	}
	h.mu.Unlock()

	h.logger.Info("websocket disconnected", ports.String("recipient", recipient))
}

// Connected returns the number of open sessions for recipient.
func (h *Hub) Connected(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[recipient])
}

// Deliver returns a deliver function writing batches to recipient's sessions.
func (h *Hub) Deliver(recipient string) ports.DeliverFunc {
	return func(ctx context.Context, batch []domain.Message) error {
		return h.Send(ctx, recipient, batch)
	}
}

// Send writes batch as one frame to every session of recipient. It fails
// with domain.ErrRecipientOffline when the recipient has no session and
// with gobreaker.ErrOpenState while the breaker is open.
func (h *Hub) Send(ctx context.Context, recipient string, batch []domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, binary, err := h.encode(recipient, batch)
	if err != nil {
		return err
	}

	_, err = h.breaker.Execute(func() (any, error) {
		return nil, h.write(recipient, data, binary)
	})
	return err
}

func (h *Hub) encode(recipient string, batch []domain.Message) ([]byte, bool, error) {
	data, err := json.Marshal(Frame{
		Type:      FrameTypeBatch,
		Recipient: recipient,
		Count:     len(batch),
		Messages:  batch,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encode frame: %w", err)
	}

	if h.codec == nil || !compression.ShouldAttempt(len(data)) {
		return data, false, nil
	}
	compressed, err := h.codec.Compress(data)
	if err != nil {
		return nil, false, fmt.Errorf("compress frame with %s: %w", h.codec.Name(), err)
	}
	if float64(len(compressed))/float64(len(data)) >= compression.MinWorthwhileRatio {
		return data, false, nil
	}
	return compressed, true, nil
}

func (h *Hub) write(recipient string, data []byte, binary bool) error {
	h.mu.RLock()
	sessions := make([]*melody.Session, 0, len(h.sessions[recipient]))
	for s := range h.sessions[recipient] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	if len(sessions) == 0 {
		return domain.ErrRecipientOffline
	}

	var errs []error
	for _, s := range sessions {
		var err error
		if binary {
			err = s.WriteBinary(data)
		} else {
			err = s.Write(data)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Delivered as long as one session accepted the frame.
	if len(errs) == len(sessions) {
		return fmt.Errorf("write to %s: %w", recipient, errors.Join(errs...))
	}
	return nil
}

// Close disconnects every session.
func (h *Hub) Close() error {
	return h.m.Close()
}
