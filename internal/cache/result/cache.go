// Package result memoizes in-flight and completed fetches by resource
// identity so identical requests share one underlying computation.
package result

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/tile-streamer/internal/core/observability"
)

// Policy selects the eviction behaviour of an entry.
type Policy int

const (
	// PolicyImagery is capacity bounded, least recently used first.
	PolicyImagery Policy = iota
	// PolicyElevation expires entries after a TTL (and optionally a size cap).
	PolicyElevation
	// PolicyInfinite never evicts.
	PolicyInfinite
)

func (p Policy) String() string {
	switch p {
	case PolicyImagery:
		return "imagery"
	case PolicyElevation:
		return "elevation"
	case PolicyInfinite:
		return "infinite"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

type Config struct {
	ImagerySize   int
	ElevationSize int // 0 = unbounded
	ElevationTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{ImagerySize: 2048, ElevationSize: 0, ElevationTTL: 10 * time.Minute}
}

// Cache is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	imagery   *lru.Cache[string, *Deferred]
	elevation *expirable.LRU[string, *Deferred]
	infinite  map[string]*Deferred
}

func New(cfg Config) (*Cache, error) {
	if cfg.ImagerySize <= 0 {
		cfg.ImagerySize = DefaultConfig().ImagerySize
	}
	if cfg.ElevationTTL <= 0 {
		cfg.ElevationTTL = DefaultConfig().ElevationTTL
	}
	img, err := lru.New[string, *Deferred](cfg.ImagerySize)
	if err != nil {
		return nil, fmt.Errorf("imagery lru: %w", err)
	}
	return &Cache{
		imagery:   img,
		elevation: expirable.NewLRU[string, *Deferred](cfg.ElevationSize, nil, cfg.ElevationTTL),
		infinite:  make(map[string]*Deferred),
	}, nil
}

// Get returns the deferred stored under key, whatever its policy.
func (c *Cache) Get(key string) (*Deferred, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

// Set stores d under key unless an entry already exists, in which case the
// existing deferred is returned and d is left untouched. The returned deferred
// is the one every requester must wait on.
func (c *Cache) Set(key string, d *Deferred, policy Policy) *Deferred {
	c.mu.Lock()
	if prev, ok := c.lookup(key); ok {
		c.mu.Unlock()
		return prev
	}
	c.store(key, d, policy)
	c.mu.Unlock()

	// failures must not be memoized or a retry would never reach the network
	d.onSettle(func(d *Deferred) {
		if d.Err() != nil {
			c.remove(key, d)
		}
	})
	return d
}

// Do returns the settled value for key, running fn at most once across all
// concurrent callers. fn runs detached from the caller's cancellation so a
// caller that stops waiting does not fail the other waiters.
func (c *Cache) Do(ctx context.Context, key string, policy Policy, fn func(context.Context) (any, error)) (any, error) {
	d := NewDeferred()
	shared := c.Set(key, d, policy)
	switch {
	case shared != d && shared.Settled():
		observability.IncResultCache(policy.String(), "hit")
	case shared != d:
		observability.IncResultCache(policy.String(), "coalesced")
	default:
		observability.IncResultCache(policy.String(), "miss")
		bg := context.WithoutCancel(ctx)
		go func() {
			v, err := fn(bg)
			d.Settle(v, err)
		}()
	}
	return shared.Wait(ctx)
}

// Delete drops key from every policy.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imagery.Remove(key)
	c.elevation.Remove(key)
	delete(c.infinite, key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imagery.Len() + c.elevation.Len() + len(c.infinite)
}

func (c *Cache) lookup(key string) (*Deferred, bool) {
	if d, ok := c.infinite[key]; ok {
		return d, true
	}
	if d, ok := c.imagery.Get(key); ok {
		return d, true
	}
	return c.elevation.Get(key)
}

func (c *Cache) store(key string, d *Deferred, policy Policy) {
	switch policy {
	case PolicyElevation:
		c.elevation.Add(key, d)
	case PolicyInfinite:
		c.infinite[key] = d
	default:
		c.imagery.Add(key, d)
	}
}

// remove deletes key only while it still maps to d.
func (c *Cache) remove(key string, d *Deferred) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.infinite[key]; ok && cur == d {
		delete(c.infinite, key)
	}
	if cur, ok := c.imagery.Peek(key); ok && cur == d {
		c.imagery.Remove(key)
	}
	if cur, ok := c.elevation.Peek(key); ok && cur == d {
		c.elevation.Remove(key)
	}
}
