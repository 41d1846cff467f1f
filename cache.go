package ndns

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DecisionCache memoizes blocklist decisions for exact query names. A name is
// either allowed or blocked, never both.
type DecisionCache interface {
	// Lookup returns the stored decision for a name, found is false if the name
	// hasn't been classified yet.
	Lookup(name string) (blocked, found bool)

	// Store records a decision. Returns true if the name wasn't stored before.
	Store(name string, blocked bool) bool

	// Len returns the number of allowed and blocked names held by the cache.
	Len() (allowed, blocked int)
}

// SetCache is an unbounded DecisionCache made of two sets, one for allowed and one
// for blocked names, each with its own lock. Entries are never removed.
type SetCache struct {
	allowedMu sync.RWMutex
	allowed   map[string]struct{}

	blockedMu sync.RWMutex
	blocked   map[string]struct{}
}

var _ DecisionCache = &SetCache{}

// NewSetCache returns an empty unbounded decision cache.
func NewSetCache() *SetCache {
	return &SetCache{
		allowed: make(map[string]struct{}),
		blocked: make(map[string]struct{}),
	}
}

func (c *SetCache) Lookup(name string) (bool, bool) {
	c.blockedMu.RLock()
	_, ok := c.blocked[name]
	c.blockedMu.RUnlock()
	if ok {
		return true, true
	}

	c.allowedMu.RLock()
	_, ok = c.allowed[name]
	c.allowedMu.RUnlock()
	if ok {
		return false, true
	}
	return false, false
}

func (c *SetCache) Store(name string, blocked bool) bool {
	mu, set := &c.allowedMu, c.allowed
	if blocked {
		mu, set = &c.blockedMu, c.blocked
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := set[name]; ok {
		return false
	}
	set[name] = struct{}{}
	return true
}

func (c *SetCache) Len() (int, int) {
	c.allowedMu.RLock()
	allowed := len(c.allowed)
	c.allowedMu.RUnlock()

	c.blockedMu.RLock()
	blocked := len(c.blocked)
	c.blockedMu.RUnlock()
	return allowed, blocked
}

// LRUCache is a DecisionCache holding at most a fixed number of names. Since
// only one decision is kept per name, a name can't be allowed and blocked at the
// same time.
type LRUCache struct {
	lru *lru.Cache[string, bool]
}

var _ DecisionCache = &LRUCache{}

// NewLRUCache returns a decision cache that evicts the least recently used names
// once it holds size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, bool](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: c}, nil
}

func (c *LRUCache) Lookup(name string) (bool, bool) {
	return c.lru.Get(name)
}

func (c *LRUCache) Store(name string, blocked bool) bool {
	ok, _ := c.lru.ContainsOrAdd(name, blocked)
	return !ok
}

func (c *LRUCache) Len() (int, int) {
	var allowed, blocked int
	for _, name := range c.lru.Keys() {
		if v, ok := c.lru.Peek(name); ok && v {
			blocked++
		} else if ok {
			allowed++
		}
	}
	return allowed, blocked
}

// NewDecisionCache returns an unbounded cache if size is 0 or less, and a bounded
// LRU cache otherwise.
func NewDecisionCache(size int) (DecisionCache, error) {
	if size <= 0 {
		return NewSetCache(), nil
	}
	return NewLRUCache(size)
}
