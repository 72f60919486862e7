package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/bft-labs/notibatch/internal/httpapi/httperror"
	"github.com/bft-labs/notibatch/internal/ports"
)

// HandlerWithErr is an http handler that reports failures by returning them.
type HandlerWithErr func(http.ResponseWriter, *http.Request) *httperror.HTTPError

// Router is a chi mux whose routes take HandlerWithErr.
type Router struct {
	*chi.Mux
	logger ports.Logger
}

func NewRouter(logger ports.Logger) *Router {
	return &Router{
		Mux:    chi.NewMux(),
		logger: logger,
	}
}

func (rt *Router) handler(handlerFn HandlerWithErr) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := handlerFn(w, r); err != nil {
			render.Render(w, r, err)
			rt.logger.Warn("request failed",
				ports.String("path", r.URL.Path),
				ports.Int("status", err.Code),
				ports.Err(err),
			)
		}
	}
}

func (rt *Router) Get(pattern string, handlerFn HandlerWithErr) {
	rt.Mux.Get(pattern, rt.handler(handlerFn))
}

func (rt *Router) Post(pattern string, handlerFn HandlerWithErr) {
	rt.Mux.Post(pattern, rt.handler(handlerFn))
}

func (rt *Router) Patch(pattern string, handlerFn HandlerWithErr) {
	rt.Mux.Patch(pattern, rt.handler(handlerFn))
}
