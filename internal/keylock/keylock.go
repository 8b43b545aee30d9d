// Package keylock provides a process-local registry of in-flight keys.
// A key is held by at most one caller at a time; contenders do not wait.
package keylock

import "sync"

// Registry is a set of currently held keys. The zero value is ready to use.
type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{held: make(map[string]struct{})}
}

// TryAcquire marks id as held. It returns false without blocking if id is
// already held.
func (r *Registry) TryAcquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == nil {
		r.held = make(map[string]struct{})
	}
	if _, ok := r.held[id]; ok {
		return false
	}
	r.held[id] = struct{}{}
	return true
}

// Release frees id. Releasing a key that is not held is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	delete(r.held, id)
	r.mu.Unlock()
}

// Held reports whether id is currently held.
func (r *Registry) Held(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[id]
	return ok
}

// Len returns the number of held keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// TryLock acquires id and returns a function that releases it. The returned
// function may be called more than once; only the first call releases.
func (r *Registry) TryLock(id string) (unlock func(), ok bool) {
	if !r.TryAcquire(id) {
		return func() {}, false
	}
	var once sync.Once
	return func() { once.Do(func() { r.Release(id) }) }, true
}
