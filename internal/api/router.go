package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/roamr/internal/profile"
	"github.com/kalambet/roamr/internal/storage"
)

// Store is the persistence the API needs. Implemented by storage.Store.
type Store interface {
	AppendSwipe(ctx context.Context, e storage.SwipeEvent) error
	ListSwipes(ctx context.Context, userID string, limit int) ([]storage.SwipeEvent, error)
	SaveDestination(ctx context.Context, userID, destinationID string) error
	UnsaveDestination(ctx context.Context, userID, destinationID string) error
	ListSaved(ctx context.Context, userID string) ([]storage.SavedDestination, error)
}

// Learner runs the preference engine. Implemented by profile.Manager.
type Learner interface {
	Learn(ctx context.Context, userID, destinationID string, action profile.Action) (profile.Outcome, error)
	GetPreferences(ctx context.Context, userID string) (profile.Vector, bool, error)
}

// AppDeps holds the server's dependencies.
type AppDeps struct {
	Store   Store
	Profile Learner
	Tokens  TokenVerifier
	Logger  *slog.Logger
	// RateLimit is requests per minute per client IP on authenticated
	// routes. Zero disables limiting.
	RateLimit int
}

// NewAppHandler returns the HTTP API.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer(deps.Logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not_found", "no route for %s", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method %s not allowed", r.Method)
	})

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.RateLimit > 0 {
			r.Use(httprate.LimitByIP(deps.RateLimit, time.Minute))
		}
		r.Use(BearerAuth(deps.Tokens))

		r.Post("/swipes", handleRecordSwipe(deps))
		r.Get("/swipes", handleListSwipes(deps))
		r.Get("/preferences", handleGetPreferences(deps))
		r.Get("/saved", handleListSaved(deps))
		r.Put("/saved/{destinationId}", handleSave(deps))
		r.Delete("/saved/{destinationId}", handleUnsave(deps))
	})

	return r
}
