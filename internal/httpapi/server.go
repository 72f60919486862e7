// Package httpapi exposes the batcher over HTTP: message submission,
// websocket subscription, status, flush and configuration updates.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/httpapi/httperror"
	"github.com/bft-labs/notibatch/internal/ports"
)

const maxRecipientLength = 128

// Batcher is the batching engine behind the API.
type Batcher interface {
	Enqueue(recipient string, msg domain.Message, deliver ports.DeliverFunc) bool
	Accepting() bool
	FlushAll(ctx context.Context, deliver ports.FlushFunc) int
	Status() domain.Status
	UpdateConfig(patch domain.ConfigPatch, resetAdaptive bool) error
}

// Transport connects recipients and delivers their batches.
type Transport interface {
	ServeRecipient(w http.ResponseWriter, r *http.Request, recipient string) error
	Deliver(recipient string) ports.DeliverFunc
	Send(ctx context.Context, recipient string, batch []domain.Message) error
}

// Server holds the API dependencies.
type Server struct {
	batcher   Batcher
	transport Transport
	metrics   http.Handler
	logger    ports.Logger
	version   string
}

// NewServer creates a server. metrics may be nil to disable /metrics.
func NewServer(batcher Batcher, transport Transport, metrics http.Handler, logger ports.Logger, version string) *Server {
	return &Server{
		batcher:   batcher,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
		version:   version,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := NewRouter(s.logger)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/_healthz", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		w.WriteHeader(http.StatusOK)
		return nil
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		w.Write([]byte(s.version))
		return nil
	})

	if s.metrics != nil {
		r.Mux.Handle("/metrics", s.metrics)
	}

	v1 := NewRouter(s.logger)
	v1.Post("/notify/{recipient}", s.notify)
	v1.Get("/ws/{recipient}", s.subscribe)
	v1.Get("/status", s.status)
	v1.Post("/flush", s.flush)
	v1.Patch("/config", s.updateConfig)
	r.Mount("/v1", v1)

	return r
}

func recipientParam(r *http.Request) (string, *httperror.HTTPError) {
	recipient := chi.URLParam(r, "recipient")
	if recipient == "" {
		return "", httperror.BadRequest("recipient is required")
	}
	if len(recipient) > maxRecipientLength {
		return "", httperror.BadRequest("recipient must be 128 characters or less")
	}
	return recipient, nil
}

// NotifyRequest is the body of POST /v1/notify/{recipient}.
type NotifyRequest struct {
	Kind     string `json:"kind"`
	Payload  any    `json:"payload,omitempty"`
	Priority *int   `json:"priority,omitempty"`
	ID       string `json:"id,omitempty"`
}

func (n *NotifyRequest) Bind(r *http.Request) error {
	if n.Kind == "" {
		return errors.New("kind is required")
	}
	if n.Priority != nil && *n.Priority < 0 {
		return errors.New("priority must not be negative")
	}
	return nil
}

// NotifyResponse acknowledges an accepted message.
type NotifyResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	recipient, herr := recipientParam(r)
	if herr != nil {
		return herr
	}

	var req NotifyRequest
	if err := render.Bind(r, &req); err != nil {
		return httperror.BadRequestWithError("invalid notification", err)
	}

	msg := domain.Message{
		Kind:     req.Kind,
		Payload:  req.Payload,
		Priority: domain.DefaultPriority,
		ID:       req.ID,
	}
	if req.Priority != nil {
		msg.Priority = *req.Priority
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if !s.batcher.Enqueue(recipient, msg, s.transport.Deliver(recipient)) {
		if !s.batcher.Accepting() {
			return httperror.Unavailable("shutting down", domain.ErrShuttingDown)
		}
		return httperror.TooManyRequests("recipient queue full", domain.ErrQueueFull)
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, NotifyResponse{ID: msg.ID, Accepted: true})
	return nil
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	recipient, herr := recipientParam(r)
	if herr != nil {
		return herr
	}
	if err := s.transport.ServeRecipient(w, r, recipient); err != nil {
		s.logger.Warn("websocket upgrade failed",
			ports.String("recipient", recipient),
			ports.Err(err),
		)
	}
	return nil
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	render.JSON(w, r, s.batcher.Status())
	return nil
}

// FlushResponse reports how many messages a flush delivered.
type FlushResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	n := s.batcher.FlushAll(r.Context(), s.transport.Send)
	render.JSON(w, r, FlushResponse{Delivered: n})
	return nil
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	var patch domain.ConfigPatch
	if err := render.DecodeJSON(r.Body, &patch); err != nil {
		return httperror.BadRequestWithError("invalid config patch", err)
	}

	reset := false
	if v := r.URL.Query().Get("reset_adaptive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return httperror.BadRequestWithError("invalid reset_adaptive", err)
		}
		reset = b
	}

	if err := s.batcher.UpdateConfig(patch, reset); err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			return httperror.BadRequestWithError("invalid configuration", err)
		}
		return httperror.InternalServerError("update config", err)
	}

	render.JSON(w, r, s.batcher.Status().Config)
	return nil
}
