// Package saved keeps the local saved set consistent with the remote store.
// All mutation goes through Coordinator.Toggle and Coordinator.Hydrate.
package saved

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/roamr/internal/keylock"
)

// ErrSync is wrapped by every error Toggle returns after a failed remote sync.
var ErrSync = errors.New("saved-set sync failed")

// Remote is the persisted saved set for the signed-in user. Save and Unsave
// must be idempotent on (user, destination).
type Remote interface {
	Save(ctx context.Context, destinationID string) error
	Unsave(ctx context.Context, destinationID string) error
	List(ctx context.Context) ([]string, error)
}

// Identity reports whether the session belongs to an authenticated user.
type Identity interface {
	Authenticated() bool
}

// Notifier receives user-facing feedback.
type Notifier interface {
	// Saved fires on the unsaved to saved transition only.
	Saved(destinationID string)
	// SyncFailed fires once per failed toggle, after the rollback.
	SyncFailed(destinationID string, err error)
}

// Result describes what a Toggle call did.
type Result struct {
	Debounced bool
	Saved     bool
}

// Coordinator applies save toggles optimistically and reconciles them with
// Remote. Toggles on one id are serialized; different ids run concurrently.
type Coordinator struct {
	cache    *Cache
	remote   Remote
	identity Identity
	notifier Notifier
	locks    *keylock.Registry
	logger   *slog.Logger

	hydrate  singleflight.Group
	mu       sync.Mutex
	hydrated bool
	session  uint64
}

// NewCoordinator creates a Coordinator over cache. notifier may be nil.
func NewCoordinator(cache *Cache, remote Remote, identity Identity, notifier Notifier) *Coordinator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Coordinator{
		cache:    cache,
		remote:   remote,
		identity: identity,
		notifier: notifier,
		locks:    keylock.New(),
		logger:   slog.Default(),
	}
}

// Locks exposes the in-flight registry for inspection.
func (c *Coordinator) Locks() *keylock.Registry {
	return c.locks
}

// Toggle flips the saved state of id. A toggle already in flight for id
// makes this call a no-op. On a remote failure the local state is restored
// and the returned error wraps ErrSync.
func (c *Coordinator) Toggle(ctx context.Context, id string) (Result, error) {
	unlock, ok := c.locks.TryLock(id)
	if !ok {
		return Result{Debounced: true, Saved: c.cache.Contains(id)}, nil
	}
	defer unlock()

	nowSaved := c.cache.Toggle(id)
	if nowSaved {
		c.notifier.Saved(id)
	}

	if !c.identity.Authenticated() {
		return Result{Saved: nowSaved}, nil
	}

	var err error
	if nowSaved {
		err = c.remote.Save(ctx, id)
	} else {
		err = c.remote.Unsave(ctx, id)
	}
	if err != nil {
		restored := !nowSaved
		c.cache.Set(id, restored)
		syncErr := fmt.Errorf("%w: %s: %v", ErrSync, id, err)
		c.logger.Warn("saved toggle rolled back", "destination_id", id, "error", err)
		c.notifier.SyncFailed(id, syncErr)
		return Result{Saved: restored}, syncErr
	}
	return Result{Saved: nowSaved}, nil
}

// Hydrate replaces the local cache with the remote saved set, once per
// authenticated session. Concurrent callers share a single fetch. A failed
// hydrate leaves the guard unset so the next call retries.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	if !c.identity.Authenticated() {
		return nil
	}

	c.mu.Lock()
	if c.hydrated {
		c.mu.Unlock()
		return nil
	}
	session := c.session
	c.mu.Unlock()

	_, err, _ := c.hydrate.Do(fmt.Sprint(session), func() (any, error) {
		if c.Hydrated() {
			return nil, nil
		}
		ids, err := c.remote.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("hydrating saved set: %w", err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		// A session reset during the fetch invalidates its result.
		if c.session != session || c.hydrated {
			return nil, nil
		}
		// Toggles in flight own their ids until they settle.
		c.cache.ReplaceKeeping(ids, c.locks.Held)
		c.hydrated = true
		c.logger.Debug("saved set hydrated", "count", len(ids))
		return nil, nil
	})
	return err
}

// Hydrated reports whether the current session has been hydrated.
func (c *Coordinator) Hydrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hydrated
}

// ResetSession clears the hydration guard, e.g. on sign-out or sign-in.
func (c *Coordinator) ResetSession() {
	c.mu.Lock()
	c.hydrated = false
	c.session++
	c.mu.Unlock()
}

type nopNotifier struct{}

func (nopNotifier) Saved(string)             {}
func (nopNotifier) SyncFailed(string, error) {}
