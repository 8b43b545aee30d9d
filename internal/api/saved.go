package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/roamr/internal/metrics"
)

func handleListSaved(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserID(r.Context())
		entries, err := deps.Store.ListSaved(r.Context(), userID)
		if err != nil {
			deps.Logger.Error("failed to list saved", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list saved destinations")
			return
		}
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.DestinationID
		}
		writeJSON(w, map[string]any{"destinations": ids})
	}
}

func handleSave(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, destID := UserID(r.Context()), chi.URLParam(r, "destinationId")
		err := deps.Store.SaveDestination(r.Context(), userID, destID)
		metrics.SavedSyncOps.WithLabelValues("save", metrics.Result(err)).Inc()
		if err != nil {
			deps.Logger.Error("failed to save destination", "user_id", userID, "destination_id", destID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save destination")
			return
		}
		writeJSON(w, map[string]bool{"success": true})
	}
}

func handleUnsave(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, destID := UserID(r.Context()), chi.URLParam(r, "destinationId")
		err := deps.Store.UnsaveDestination(r.Context(), userID, destID)
		metrics.SavedSyncOps.WithLabelValues("unsave", metrics.Result(err)).Inc()
		if err != nil {
			deps.Logger.Error("failed to unsave destination", "user_id", userID, "destination_id", destID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to unsave destination")
			return
		}
		writeJSON(w, map[string]bool{"success": true})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
