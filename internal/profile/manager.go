package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrUpstreamWrite marks a storage failure while reading or writing the
// vectors the engine learns from. Callers log it; it never fails a swipe.
var ErrUpstreamWrite = errors.New("preference storage failure")

// PreferenceStore defines the storage operations the Manager needs.
// Implemented by storage.Store. A missing row is reported as ok == false
// with a nil error.
type PreferenceStore interface {
	GetFeatureVector(ctx context.Context, destinationID string) (Vector, bool, error)
	GetPreferenceVector(ctx context.Context, userID string) (Vector, bool, error)
	UpdatePreferenceVector(ctx context.Context, userID string, v Vector) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Outcome describes what a Learn call did.
type Outcome string

const (
	OutcomeUpdated            Outcome = "updated"
	OutcomeNoRate             Outcome = "no_rate"
	OutcomeMissingFeatures    Outcome = "missing_features"
	OutcomeMissingPreferences Outcome = "missing_preferences"
	OutcomeFailed             Outcome = "failed"
)

type cacheEntry struct {
	vec Vector
	at  time.Time
}

// Manager applies swipe-driven learning to user preference vectors and
// serves cached reads of them.
type Manager struct {
	store  PreferenceStore
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second read cache TTL.
func NewManager(store PreferenceStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store PreferenceStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		logger: slog.Default(),
		cached: make(map[string]cacheEntry),
	}
}

// Learn applies one EMA step for the given swipe. Missing feature or
// preference rows are a logged no-op. All seven dimensions are written in
// a single store call. Concurrent calls for one user are last-write-wins.
func (m *Manager) Learn(ctx context.Context, userID, destinationID string, action Action) (Outcome, error) {
	rate := action.Rate()
	if rate == 0 {
		return OutcomeNoRate, nil
	}

	feature, ok, err := m.store.GetFeatureVector(ctx, destinationID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: loading features for %s: %w", ErrUpstreamWrite, destinationID, err)
	}
	if !ok {
		m.logger.Warn("no feature vector, skipping preference update",
			"user_id", userID, "destination_id", destinationID, "action", action)
		return OutcomeMissingFeatures, nil
	}

	old, ok, err := m.store.GetPreferenceVector(ctx, userID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: loading preferences for %s: %w", ErrUpstreamWrite, userID, err)
	}
	if !ok {
		m.logger.Warn("no preference row, skipping preference update",
			"user_id", userID, "destination_id", destinationID, "action", action)
		return OutcomeMissingPreferences, nil
	}

	updated := Step(old, feature, rate)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.UpdatePreferenceVector(ctx, userID, updated); err != nil {
		return OutcomeFailed, fmt.Errorf("%w: writing preferences for %s: %w", ErrUpstreamWrite, userID, err)
	}
	delete(m.cached, userID)

	m.logger.Debug("preferences updated",
		"user_id", userID, "destination_id", destinationID, "action", action, "rate", rate)
	return OutcomeUpdated, nil
}

// GetPreferences returns the user's preference vector from cache or storage.
// ok is false when the user has no preference row yet.
func (m *Manager) GetPreferences(ctx context.Context, userID string) (Vector, bool, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, hit := m.cached[userID]; hit && m.clock.Now().Before(e.at.Add(m.ttl)) {
		m.mu.RUnlock()
		return e.vec, true, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, hit := m.cached[userID]; hit && m.clock.Now().Before(e.at.Add(m.ttl)) {
		return e.vec, true, nil
	}

	vec, ok, err := m.store.GetPreferenceVector(ctx, userID)
	if err != nil {
		return Vector{}, false, fmt.Errorf("loading preferences for %s: %w", userID, err)
	}
	if !ok {
		return Vector{}, false, nil
	}
	m.cached[userID] = cacheEntry{vec: vec, at: m.clock.Now()}
	return vec, true, nil
}

// TopDimensions returns the names of the n highest-scoring dimensions,
// highest first. Ties keep dimension order.
func TopDimensions(v Vector, n int) []string {
	n = max(0, min(n, NumDimensions))
	idx := make([]int, NumDimensions)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return v[idx[a]] > v[idx[b]]
	})
	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		out = append(out, Dimensions[i])
	}
	return out
}
