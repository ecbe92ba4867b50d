package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/battle"
	"github.com/dsalaz04/pkmn-battle-client/internal/history"
)

const defaultHistoryLimit = 20

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// SessionSnapshot serves a point-in-time view of the current battle. The
// snapshot is taken on the battle loop, so it is always internally
// consistent.
func SessionSnapshot(eng *battle.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eng.Snapshot())
	}
}

// RecentHistory serves the newest battle records, newest first. ?limit=n
// caps the page size.
func RecentHistory(hist *history.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hist == nil {
			writeJSON(w, http.StatusOK, []history.Record{})
			return
		}
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		recs, err := hist.Recent(r.Context(), limit)
		if err != nil {
			log.Error("load battle history", zap.Error(err))
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []history.Record{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
