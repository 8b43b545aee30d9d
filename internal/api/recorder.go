package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/roamr/internal/metrics"
	"github.com/kalambet/roamr/internal/profile"
	"github.com/kalambet/roamr/internal/storage"
	"github.com/kalambet/roamr/internal/validation"
)

const maxRequestBodySize = 64 << 10 // 64KB

// SwipeRequest is the POST /swipes body. Dwell is capped at 24h.
type SwipeRequest struct {
	DestinationID string   `json:"destinationId" validate:"required,max=256"`
	Action        string   `json:"action" validate:"required,oneof=viewed skipped saved"`
	TimeSpentMs   *float64 `json:"timeSpentMs,omitempty" validate:"omitempty,gte=0,lte=86400000"`
	PriceShown    *float64 `json:"priceShown,omitempty" validate:"omitempty,gte=0"`
}

func handleRecordSwipe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SwipeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validation.ValidateStruct(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		ctx := r.Context()
		userID := UserID(ctx)
		action := profile.Action(req.Action)
		log := deps.Logger.With("user_id", userID, "destination_id", req.DestinationID, "action", action)

		ev := storage.SwipeEvent{
			ID:            uuid.NewString(),
			UserID:        userID,
			DestinationID: req.DestinationID,
			Action:        action,
			PriceShown:    req.PriceShown,
			CreatedAt:     time.Now().UTC(),
		}
		if req.TimeSpentMs != nil {
			ms := int64(math.Round(*req.TimeSpentMs))
			ev.TimeSpentMs = &ms
		}
		if err := deps.Store.AppendSwipe(ctx, ev); err != nil {
			metrics.UpstreamWriteErrors.WithLabelValues("append_swipe").Inc()
			log.Error("failed to record swipe", "error", err)
		}
		metrics.SwipesRecorded.WithLabelValues(string(action)).Inc()

		if action.Rate() != 0 {
			outcome, err := deps.Profile.Learn(ctx, userID, req.DestinationID, action)
			metrics.PreferenceUpdates.WithLabelValues(string(outcome)).Inc()
			if err != nil {
				if errors.Is(err, profile.ErrUpstreamWrite) {
					metrics.UpstreamWriteErrors.WithLabelValues("update_preferences").Inc()
				}
				log.Error("preference update failed", "error", err)
			}
		}

		writeJSON(w, map[string]bool{"success": true})
	}
}

func handleListSwipes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		swipes, err := deps.Store.ListSwipes(r.Context(), UserID(r.Context()), limit)
		if err != nil {
			deps.Logger.Error("failed to list swipes", "user_id", UserID(r.Context()), "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list swipes")
			return
		}
		if swipes == nil {
			swipes = []storage.SwipeEvent{}
		}
		writeJSON(w, map[string]any{"swipes": swipes})
	}
}

func handleGetPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserID(r.Context())
		vec, ok, err := deps.Profile.GetPreferences(r.Context(), userID)
		if err != nil {
			deps.Logger.Error("failed to load preferences", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load preferences")
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no preferences for user")
			return
		}
		writeJSON(w, map[string]any{
			"user_id":     userID,
			"preferences": vec,
			"top":         profile.TopDimensions(vec, 3),
		})
	}
}
