package profile

import (
	"encoding/json"
	"fmt"
)

// NumDimensions is the fixed width of feature and preference vectors.
const NumDimensions = 7

// Dimensions names each vector slot in storage and wire order.
var Dimensions = [NumDimensions]string{
	"beach",
	"city",
	"adventure",
	"culture",
	"nightlife",
	"nature",
	"food",
}

// DefaultScore is the value every preference dimension starts at.
const DefaultScore = 0.5

// Vector is a travel-style profile: a destination's content scores or a
// user's inferred taste. Every slot lies in [0,1].
type Vector [NumDimensions]float64

// DefaultPreferences returns the vector a freshly onboarded user starts with.
func DefaultPreferences() Vector {
	var v Vector
	for i := range v {
		v[i] = DefaultScore
	}
	return v
}

// Get returns the score for a named dimension.
func (v Vector) Get(name string) (float64, bool) {
	for i, d := range Dimensions {
		if d == name {
			return v[i], true
		}
	}
	return 0, false
}

// Map returns the vector keyed by dimension name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, NumDimensions)
	for i, d := range Dimensions {
		m[d] = v[i]
	}
	return m
}

// MarshalJSON encodes the vector as an object keyed by dimension name.
func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON decodes an object keyed by dimension name. Missing
// dimensions are left at zero; unknown keys are rejected.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Vector
	for k, val := range m {
		idx := -1
		for i, d := range Dimensions {
			if d == k {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("unknown dimension %q", k)
		}
		out[idx] = val
	}
	*v = out
	return nil
}

// Action is the label attached to one card transition.
type Action string

const (
	ActionViewed  Action = "viewed"
	ActionSkipped Action = "skipped"
	ActionSaved   Action = "saved"
)

// learningRates are the per-action EMA rates. Saves are the strongest
// positive signal, passive views a weak positive, skips a small negative.
var learningRates = map[Action]float64{
	ActionSaved:   0.20,
	ActionViewed:  0.10,
	ActionSkipped: -0.05,
}

// Rate returns the learning rate for the action, or 0 when none is defined.
func (a Action) Rate() float64 {
	return learningRates[a]
}

// Valid reports whether a is one of the three recorded actions.
func (a Action) Valid() bool {
	switch a {
	case ActionViewed, ActionSkipped, ActionSaved:
		return true
	}
	return false
}

// ParseAction converts a wire string to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}
