package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/relay/internal/artifacts"
	"github.com/obiente/translate/relay/internal/ws"
)

// NewRouter mounts the relay WebSocket on "/" and "/ws". idx may be nil, in
// which case the chunk listing is not served.
func NewRouter(wss *ws.Server, idx *artifacts.Index, g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	if idx != nil {
		r.Get("/api/v1/chunks", func(w http.ResponseWriter, r *http.Request) {
			limit := 50
			if l := r.URL.Query().Get("limit"); l != "" {
				if n, err := strconv.Atoi(l); err == nil && n > 0 {
					limit = n
				}
			}
			entries, err := idx.Recent(r.Context(), limit)
			if err != nil {
				log.Error().Err(err).Msg("query chunk index failed")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})
	}

	r.Get("/", wss.Handle)
	r.Get("/ws", wss.Handle)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
