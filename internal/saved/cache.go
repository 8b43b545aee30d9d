package saved

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Cache is the authoritative local view of the user's saved set.
type Cache struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{ids: make(map[string]struct{})}
}

// Contains reports whether id is saved.
func (c *Cache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Set writes the membership of id.
func (c *Cache) Set(id string, saved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if saved {
		c.ids[id] = struct{}{}
	} else {
		delete(c.ids, id)
	}
}

// Toggle flips the membership of id and returns the new state.
func (c *Cache) Toggle(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		delete(c.ids, id)
		return false
	}
	c.ids[id] = struct{}{}
	return true
}

// Replace swaps the whole set for ids.
func (c *Cache) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	c.mu.Lock()
	c.ids = next
	c.mu.Unlock()
}

// ReplaceKeeping swaps the set for ids, except that ids for which keep
// returns true retain their current membership.
func (c *Cache) ReplaceKeeping(ids []string, keep func(id string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !keep(id) {
			next[id] = struct{}{}
		}
	}
	for id := range c.ids {
		if keep(id) {
			next[id] = struct{}{}
		}
	}
	c.ids = next
}

// IDs returns the saved ids in sorted order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of saved ids.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// LoadFile replaces the set with the JSON array stored at path. A missing
// file leaves the cache empty and is not an error.
func (c *Cache) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.Replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading saved cache: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("parsing saved cache %s: %w", path, err)
	}
	c.Replace(ids)
	return nil
}

// SaveFile writes the set to path as a JSON array, replacing the file atomically.
func (c *Cache) SaveFile(path string) error {
	data, err := json.MarshalIndent(c.IDs(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing saved cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing saved cache: %w", err)
	}
	return nil
}
