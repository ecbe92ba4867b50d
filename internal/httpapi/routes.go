// Package httpapi is the local debug surface: a session snapshot, recent
// battle history, health, and prometheus metrics. It is read-only; battle
// input never comes through HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/battle"
	"github.com/dsalaz04/pkmn-battle-client/internal/history"
)

func SetupRoutes(eng *battle.Engine, hist *history.Store, reg *prometheus.Registry, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/session", SessionSnapshot(eng))
	r.Get("/history", RecentHistory(hist, log))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
