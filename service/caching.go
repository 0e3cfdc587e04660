package service

import (
	"context"
	"fmt"

	"github.com/PraveenKS30/hl7-fhir-validator/cache"
	"golang.org/x/sync/singleflight"
)

// Observer receives cache hit and miss notifications, labelled by lookup kind.
type Observer interface {
	CacheHit(kind string)
	CacheMiss(kind string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)  {}
func (nopObserver) CacheMiss(string) {}

// CachingSupport memoizes the lookups of the ValidationSupport it wraps.
//
// Entries are keyed on (kind, identifier) and never expire. "Not found"
// answers are memoized like any other answer; provider faults are returned
// to the caller and not stored, so the next lookup retries. Concurrent
// misses on the same key share a single call to the wrapped support.
type CachingSupport struct {
	next     ValidationSupport
	entries  *cache.Cache[cacheKey, cacheEntry]
	group    singleflight.Group
	observer Observer
}

type cacheKey struct {
	kind Kind
	id   string
}

type cacheEntry struct {
	value any
	found bool
}

// CachingOption configures a CachingSupport.
type CachingOption func(*CachingSupport)

// WithCacheSize bounds the cache to size entries with LRU eviction.
// Zero or a negative size keeps the cache unbounded.
func WithCacheSize(size int) CachingOption {
	return func(c *CachingSupport) {
		c.entries = cache.New[cacheKey, cacheEntry](size)
	}
}

// WithObserver reports hits and misses to o.
func WithObserver(o Observer) CachingOption {
	return func(c *CachingSupport) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewCachingSupport wraps next with a cache.
func NewCachingSupport(next ValidationSupport, opts ...CachingOption) *CachingSupport {
	c := &CachingSupport{
		next:     next,
		entries:  cache.New[cacheKey, cacheEntry](0),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements ValidationSupport.
func (c *CachingSupport) Name() string {
	return "cache(" + c.next.Name() + ")"
}

// Len returns the number of memoized lookups.
func (c *CachingSupport) Len() int {
	return c.entries.Len()
}

// Stats returns the statistics of the underlying store.
func (c *CachingSupport) Stats() cache.Stats {
	return c.entries.Stats()
}

// FetchStructureDefinition implements ValidationSupport.
func (c *CachingSupport) FetchStructureDefinition(ctx context.Context, url string) (*StructureDefinition, error) {
	return memoize(c, KindStructureDefinition, url, func() (*StructureDefinition, error) {
		return c.next.FetchStructureDefinition(ctx, url)
	})
}

// FetchValueSet implements ValidationSupport.
func (c *CachingSupport) FetchValueSet(ctx context.Context, url string) (*ValueSet, error) {
	return memoize(c, KindValueSet, url, func() (*ValueSet, error) {
		return c.next.FetchValueSet(ctx, url)
	})
}

// FetchCodeSystem implements ValidationSupport.
func (c *CachingSupport) FetchCodeSystem(ctx context.Context, url string) (*CodeSystem, error) {
	return memoize(c, KindCodeSystem, url, func() (*CodeSystem, error) {
		return c.next.FetchCodeSystem(ctx, url)
	})
}

// ValidateCode implements ValidationSupport.
func (c *CachingSupport) ValidateCode(ctx context.Context, req CodeRequest) (*ValidateCodeResult, error) {
	return memoize(c, KindCodeValidation, req.CacheKey(), func() (*ValidateCodeResult, error) {
		return c.next.ValidateCode(ctx, req)
	})
}

func memoize[T any](c *CachingSupport, kind Kind, id string, fetch func() (*T, error)) (*T, error) {
	key := cacheKey{kind: kind, id: id}
	if e, ok := c.entries.Get(key); ok {
		c.observer.CacheHit(string(kind))
		return unpack[T](e, kind, id)
	}
	c.observer.CacheMiss(string(kind))

	v, err, _ := c.group.Do(string(kind)+"\x00"+id, func() (any, error) {
		if e, ok := c.entries.Get(key); ok {
			return e, nil
		}

		value, err := fetch()
		var e cacheEntry
		switch {
		case err == nil && value != nil:
			e = cacheEntry{value: value, found: true}
		case err == nil || IsUnresolved(err):
			e = cacheEntry{}
		default:
			return nil, err
		}
		c.entries.Set(key, e)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return unpack[T](v.(cacheEntry), kind, id)
}

func unpack[T any](e cacheEntry, kind Kind, id string) (*T, error) {
	if !e.found {
		return nil, fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return e.value.(*T), nil
}

var _ ValidationSupport = (*CachingSupport)(nil)
