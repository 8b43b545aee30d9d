package swipe

import (
	"sync"
	"time"
)

// Card is the feed card currently on screen.
type Card struct {
	ID    string
	Price *float64
}

// Identity reports whether the session belongs to an authenticated user.
type Identity interface {
	Authenticated() bool
}

// Tracker measures dwell time on the active card and dispatches one event
// per card transition. Anonymous sessions never dispatch.
type Tracker struct {
	dispatcher Dispatcher
	identity   Identity
	now        func() time.Time

	mu          sync.Mutex
	active      *Card
	activatedAt time.Time
	handled     bool
}

// NewTracker creates a Tracker that sends events to d.
func NewTracker(d Dispatcher, identity Identity) *Tracker {
	return &Tracker{dispatcher: d, identity: identity, now: time.Now}
}

// WithClock overrides the time source (for testing).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Activate makes card the active card and starts its dwell timer. A
// previously active card is left first.
func (t *Tracker) Activate(card Card) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaveLocked()
	c := card
	t.active = &c
	t.activatedAt = t.now()
	t.handled = false
}

// Leave classifies and dispatches the active card. It returns the event,
// or false when there was no active card or it was already saved.
func (t *Tracker) Leave() (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked()
}

// Save dispatches an explicit save for destinationID. When it is the active
// card, the dwell so far is attached and leaving it later sends nothing.
func (t *Tracker) Save(destinationID string) Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := Event{DestinationID: destinationID, Action: Classify(0, true)}
	if t.active != nil && t.active.ID == destinationID {
		ms := t.dwellLocked().Milliseconds()
		ev.TimeSpentMs = &ms
		ev.PriceShown = t.active.Price
		t.handled = true
	}
	t.dispatch(ev)
	return ev
}

// Active returns the active card id, if any.
func (t *Tracker) Active() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return "", false
	}
	return t.active.ID, true
}

func (t *Tracker) leaveLocked() (Event, bool) {
	if t.active == nil {
		return Event{}, false
	}
	card, handled := t.active, t.handled
	dwell := t.dwellLocked()
	t.active = nil
	t.handled = false
	if handled {
		return Event{}, false
	}

	ms := dwell.Milliseconds()
	ev := Event{
		DestinationID: card.ID,
		Action:        Classify(dwell, false),
		TimeSpentMs:   &ms,
		PriceShown:    card.Price,
	}
	t.dispatch(ev)
	return ev, true
}

func (t *Tracker) dwellLocked() time.Duration {
	d := t.now().Sub(t.activatedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (t *Tracker) dispatch(ev Event) {
	if t.identity == nil || !t.identity.Authenticated() {
		return
	}
	t.dispatcher.Dispatch(ev)
}
