package storage

import (
	"errors"
	"time"

	"github.com/kalambet/roamr/internal/profile"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Destination is a catalog entry with its read-only feature vector.
type Destination struct {
	ID        string
	Name      string
	Features  profile.Vector
	UpdatedAt time.Time
}

// SwipeEvent is one append-only swipe-history row. TimeSpentMs and
// PriceShown are nil when the client did not report them.
type SwipeEvent struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	DestinationID string         `json:"destination_id"`
	Action        profile.Action `json:"action"`
	TimeSpentMs   *int64         `json:"time_spent_ms,omitempty"`
	PriceShown    *float64       `json:"price_shown,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SavedDestination is a (user, destination) saved-set membership.
type SavedDestination struct {
	UserID        string    `json:"user_id"`
	DestinationID string    `json:"destination_id"`
	CreatedAt     time.Time `json:"created_at"`
}
