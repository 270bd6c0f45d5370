package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func NewRouter(api *API, ws *WSHandler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Post("/sessions", api.CreateSession)
	r.Get("/sessions/{pin}", api.GetSession)
	r.Post("/sessions/{pin}/players", api.RegisterPlayer)
	r.Get("/sessions/{pin}/stats", api.GetStats)
	r.Get("/ws", ws.ServeWS)
	return r
}
