package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var timeNow = time.Now

// NewRouter mounts the health check and the quiz room socket endpoint.
func NewRouter(ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws/quizroom/{roomID}", ws.ServeWS)
	return r
}
