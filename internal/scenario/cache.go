package scenario

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Key identifies one cached scenario matrix. Seed participates so two
// requests with the same seed share bytes; SpecHash separates constraint
// revisions of the same slate.
type Key struct {
	SlateID    string
	NScenarios int
	Seed       int64
	SpecHash   string
}

// Stats reports cache behavior for observability and tests.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	SampleCalls int64 `json:"sample_calls"`
	Bytes       int64 `json:"bytes"`
	Entries     int   `json:"entries"`
}

type entry struct {
	key       Key
	matrix    *Matrix
	cols      []int
	err       error
	ready     chan struct{} // closed once matrix/err is set
	elem      *list.Element
	expiresAt time.Time
	pins      int
}

// Cache is an LRU scenario-matrix store with a bytes budget, TTL, and a
// single-flight guarantee: concurrent misses on the same key produce exactly
// one Source.Sample call. In-flight and pinned entries are never evicted.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	lru      *list.List // front = most recently used
	maxBytes int64
	ttl      time.Duration
	stats    Stats
	logger   *logrus.Logger
}

// NewCache creates a cache with the given bytes budget and TTL. A zero TTL
// disables expiry.
func NewCache(maxBytes int64, ttl time.Duration, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		entries:  make(map[Key]*entry),
		lru:      list.New(),
		maxBytes: maxBytes,
		ttl:      ttl,
		logger:   log,
	}
}

// GetOrSample returns the cached matrix for key, populating it via src on a
// miss. The matrix is shared across requests; callers must treat it as
// immutable. The caller's context governs the sampling work, so a cancelled
// request does not leave an orphan sample running for its own benefit.
func (c *Cache) GetOrSample(ctx context.Context, key Key, src Source) (*Matrix, []int, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.ttl > 0 && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) && e.pins == 0 {
			c.removeLocked(e)
		} else {
			c.stats.Hits++
			e.pins++
			c.lru.MoveToFront(e.elem)
			c.mu.Unlock()
			return c.await(ctx, e)
		}
	}

	// Miss: install an in-flight entry before sampling.
	c.stats.Misses++
	c.stats.SampleCalls++
	e := &entry{key: key, ready: make(chan struct{}), pins: 1}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.mu.Unlock()

	matrix, cols, err := src.Sample(ctx, key.NScenarios, key.Seed)

	c.mu.Lock()
	e.matrix = matrix
	e.cols = cols
	e.err = err
	if err == nil {
		c.stats.Bytes += matrix.Bytes()
		if c.ttl > 0 {
			e.expiresAt = time.Now().Add(c.ttl)
		}
		c.evictLocked()
	} else {
		// Failed population must not poison future lookups.
		c.removeLocked(e)
	}
	close(e.ready)
	c.mu.Unlock()

	return c.await(ctx, e)
}

// await blocks until the entry is populated or the context ends, then
// unpins it.
func (c *Cache) await(ctx context.Context, e *entry) (*Matrix, []int, error) {
	defer func() {
		c.mu.Lock()
		if e.pins > 0 {
			e.pins--
		}
		c.mu.Unlock()
	}()

	select {
	case <-e.ready:
		return e.matrix, e.cols, e.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

func (c *Cache) evictLocked() {
	for c.stats.Bytes > c.maxBytes {
		evicted := false
		for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
			e := elem.Value.(*entry)
			if e.pins > 0 || e.matrix == nil {
				continue
			}
			c.removeLocked(e)
			c.stats.Evictions++
			c.logger.WithFields(logrus.Fields{
				"slate_id":    e.key.SlateID,
				"n_scenarios": e.key.NScenarios,
			}).Debug("Evicted scenario matrix from cache")
			evicted = true
			break
		}
		if !evicted {
			return // everything left is pinned or in flight
		}
	}
}

func (c *Cache) removeLocked(e *entry) {
	if _, ok := c.entries[e.key]; !ok {
		return
	}
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
	if e.matrix != nil {
		c.stats.Bytes -= e.matrix.Bytes()
	}
}
