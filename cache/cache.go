// Package cache implements memory bounded least recently used cache with
// per-entry cost accounting.
package cache

import (
	"container/list"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/maruel/natural"
	"go.uber.org/zap"

	"imgspan/utils/debug"
)

// DefaultFraction of total memory budget given to the cache.
const DefaultFraction = 1.0 / 8

// CapacityFor returns cache capacity as a fraction of budget. Fraction outside
// of (0, 1] is replaced with DefaultFraction.
func CapacityFor(budget int64, fraction float64) int64 {
	if math.IsNaN(fraction) || fraction <= 0 || fraction > 1 {
		fraction = DefaultFraction
	}
	if budget <= 0 {
		return 0
	}
	return int64(float64(budget) * fraction)
}

// CostFunc returns cost of a value in cache accounting units.
type CostFunc[V any] func(V) int64

// LoadFunc produces value for the key on cache miss.
type LoadFunc[V any] func(key string) (V, error)

// Stats reports cache counters and current occupancy.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Loads     uint64
	Evictions uint64
	Rejected  uint64
	Entries   int
	Cost      int64
	Capacity  int64
}

type entry[V any] struct {
	key   string
	value V
	cost  int64
}

// Cache maps keys to values keeping total cost of values under capacity.
// When space is needed least recently used entries are evicted first.
// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front - most recently used
	used     int64
	capacity int64
	cost     CostFunc[V]
	stats    Stats
	log      *zap.Logger
}

// New creates empty cache. Negative costs returned by cost are counted as 0,
// nil cost counts every value as 1.
func New[V any](capacity int64, cost CostFunc[V], log *zap.Logger) *Cache[V] {
	if log == nil {
		log = zap.NewNop()
	}
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Cache[V]{
		items:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		cost:     cost,
		log:      log.Named("cache"),
	}
}

// Get returns cached value and marks it as most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		c.stats.Hits++
		return elem.Value.(*entry[V]).value, true
	}
	c.stats.Misses++
	var zero V
	return zero, false
}

// Put stores value unless key is already present, in which case the cached
// value is kept and value is dropped. Entries are evicted until value fits.
// Value costing more than the whole capacity is not stored and nothing is
// evicted for it. Returns true if value was stored.
func (c *Cache[V]) Put(key string, value V) bool {
	cost := max(c.cost(value), 0)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		c.log.Debug("Key already cached, dropping new value", zap.String("key", key))
		return false
	}
	if cost > c.capacity {
		c.stats.Rejected++
		c.log.Debug("Value does not fit into cache", zap.String("key", key), zap.Int64("cost", cost), zap.Int64("capacity", c.capacity))
		return false
	}
	for c.used+cost > c.capacity && c.order.Len() > 0 {
		c.evictOldestLocked()
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, cost: cost})
	c.used += cost
	return true
}

// GetOrLoad returns cached value or calls load, caches and returns its
// result. Loaded value is returned even if it could not be cached. Errors
// from load are returned as is and are not cached.
//
// Concurrent callers missing the same key may load it more than once, only
// the first stored value is kept.
func (c *Cache[V]) GetOrLoad(key string, load LoadFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := load(key)

	c.mu.Lock()
	c.stats.Loads++
	c.mu.Unlock()

	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v)
	return v, nil
}

// Remove deletes key from the cache.
func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Purge removes all entries, counters are kept.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.used = 0
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Cost returns sum of costs of all cached values.
func (c *Cache[V]) Cost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *Cache[V]) Capacity() int64 {
	return c.capacity
}

// Keys returns cached keys, most recently used first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[V]).key)
	}
	return keys
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.order.Len()
	s.Cost = c.used
	s.Capacity = c.capacity
	return s
}

// String returns a readable dump of the cache. It exists solely for manual
// inspection during debugging.
func (c *Cache[V]) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	tw := debug.NewTreeWriter()
	tw.Line(0, "Cache: entries[%d] cost[%d] capacity[%d]", c.order.Len(), c.used, c.capacity)
	tw.Line(1, "hits[%d] misses[%d] loads[%d] evictions[%d] rejected[%d]",
		c.stats.Hits, c.stats.Misses, c.stats.Loads, c.stats.Evictions, c.stats.Rejected)

	keys := slices.Collect(maps.Keys(c.items))
	sort.Sort(natural.StringSlice(keys))
	for _, k := range keys {
		tw.Line(1, "Entry[%q] cost[%d]", k, c.items[k].Value.(*entry[V]).cost)
	}
	return tw.String()
}

func (c *Cache[V]) evictOldestLocked() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	e := c.removeLocked(elem)
	c.stats.Evictions++
	c.log.Debug("Evicted", zap.String("key", e.key), zap.Int64("cost", e.cost), zap.Int64("used", c.used))
}

func (c *Cache[V]) removeLocked(elem *list.Element) *entry[V] {
	e := c.order.Remove(elem).(*entry[V])
	delete(c.items, e.key)
	c.used -= e.cost
	return e
}
