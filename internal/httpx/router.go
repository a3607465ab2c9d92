package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/api/checkout", handler.SubmitCheckout)
	r.Post("/api/webhooks/payment", handler.ReceiveWebhook)
	r.Get("/api/track-order", handler.TrackOrder)
	return r
}
