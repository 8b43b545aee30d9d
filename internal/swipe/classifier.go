// Package swipe turns card dwell time and explicit gestures into swipe
// actions and hands them to a detached dispatcher.
package swipe

import (
	"time"

	"github.com/kalambet/roamr/internal/profile"
)

// SkipThreshold is the dwell time below which leaving a card counts as a skip.
const SkipThreshold = 1500 * time.Millisecond

// Classify labels one card transition. An explicit save always wins.
func Classify(timeSpent time.Duration, explicitSave bool) profile.Action {
	switch {
	case explicitSave:
		return profile.ActionSaved
	case timeSpent < SkipThreshold:
		return profile.ActionSkipped
	default:
		return profile.ActionViewed
	}
}

// Event is the body sent to the swipe recorder.
type Event struct {
	DestinationID string         `json:"destinationId"`
	Action        profile.Action `json:"action"`
	TimeSpentMs   *int64         `json:"timeSpentMs,omitempty"`
	PriceShown    *float64       `json:"priceShown,omitempty"`
}

// Dispatcher accepts events without blocking. It has no return value: a
// failed dispatch is the dispatcher's concern, never the caller's.
type Dispatcher interface {
	Dispatch(Event)
}
