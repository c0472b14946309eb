package models

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Kind identifies an inference model role
type Kind string

const (
	KindAnalyser   Kind = "analyser"
	KindSwapper    Kind = "swapper"
	KindEnhancer   Kind = "enhancer"
	KindClassifier Kind = "classifier"
)

// Handle is an initialized inference resource
type Handle interface {
	Close() error
}

// Key identifies a cached handle
type Key struct {
	Kind   Kind
	Target Target
	// Variant distinguishes models of the same kind (e.g. enhancer flavours)
	Variant string
}

func (k Key) String() string {
	if k.Variant == "" {
		return fmt.Sprintf("%s/%s", k.Kind, k.Target)
	}
	return fmt.Sprintf("%s:%s/%s", k.Kind, k.Variant, k.Target)
}

// Cache memoizes one handle per key. Construction happens at most once per key
// even under concurrent first access; a failed construction is not stored, so
// a later call retries.
type Cache struct {
	mu      sync.RWMutex
	handles map[Key]Handle
	group   singleflight.Group
	inits   map[Key]int
}

// NewCache creates an empty handle cache
func NewCache() *Cache {
	return &Cache{
		handles: make(map[Key]Handle),
		inits:   make(map[Key]int),
	}
}

// GetOrInit returns the handle for key, calling init if none is cached yet.
// All callers racing on the same key observe the same completed handle.
func (c *Cache) GetOrInit(key Key, init func() (Handle, error)) (Handle, error) {
	if h, ok := c.lookup(key); ok {
		return h, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// A previous flight may have finished between lookup and Do
		if h, ok := c.lookup(key); ok {
			return h, nil
		}

		c.mu.Lock()
		c.inits[key]++
		c.mu.Unlock()

		h, err := init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", key, err)
		}
		if h == nil {
			return nil, fmt.Errorf("failed to initialize %s: nil handle", key)
		}

		c.mu.Lock()
		c.handles[key] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// Get returns a typed handle, initializing it on first use
func Get[T Handle](c *Cache, key Key, init func() (T, error)) (T, error) {
	h, err := c.GetOrInit(key, func() (Handle, error) {
		return init()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := h.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cached handle %s has type %T", key, h)
	}
	return typed, nil
}

// Initializations reports how many times construction ran for key
func (c *Cache) Initializations(key Key) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inits[key]
}

// Len returns the number of cached handles
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// Close releases every cached handle
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, h := range c.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		delete(c.handles, key)
	}
	return errors.Join(errs...)
}

func (c *Cache) lookup(key Key) (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[key]
	return h, ok
}
