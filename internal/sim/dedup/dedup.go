// Package dedup suppresses rapid repeat triggers per (actor, action kind).
//
// Records live in a fixed set of shards keyed by actor; each actor owns its
// own kind map and lock, so two actors never contend past the shard read lock.
// A periodic sweep removes records older than Expiry, independent of whatever
// cooldown callers pass to IsRecentlyProcessed.
package dedup

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultExpiry        = 5 * time.Minute
	DefaultSweepInterval = time.Minute

	shardCount = 32
)

type Config struct {
	Expiry        time.Duration
	SweepInterval time.Duration
	// Now defaults to time.Now; tests inject a fake clock.
	Now    func() time.Time
	Logger *log.Logger
}

type Cache struct {
	cfg    Config
	shards [shardCount]shard

	processedTotal atomic.Uint64
	sweptTotal     atomic.Uint64
	faultTotal     atomic.Uint64
}

type shard struct {
	mu     sync.RWMutex
	actors map[string]*actorEntry
}

type actorEntry struct {
	mu    sync.Mutex
	kinds map[string]int64 // last processed, unix millis
}

type Stats struct {
	Actors         int    `json:"actors"`
	Entries        int    `json:"entries"`
	ProcessedTotal uint64 `json:"processed_total"`
	SweptTotal     uint64 `json:"swept_total"`
	FaultTotal     uint64 `json:"fault_total"`
}

func New(cfg Config) *Cache {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Cache{cfg: cfg}
	for i := range c.shards {
		c.shards[i].actors = map[string]*actorEntry{}
	}
	return c
}

func (c *Cache) shardFor(actor string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actor))
	return &c.shards[h.Sum32()%shardCount]
}

func (c *Cache) nowMillis() int64 { return c.cfg.Now().UnixMilli() }

// IsRecentlyProcessed reports whether (actor, kind) was marked less than
// cooldown ago. A missing record is a miss. Internal faults fail open.
func (c *Cache) IsRecentlyProcessed(actor, kind string, cooldown time.Duration) (hit bool) {
	if c == nil || cooldown <= 0 {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			c.faultTotal.Add(1)
			c.printf("dedup lookup fault actor=%s kind=%s: %v", actor, kind, r)
			hit = false
		}
	}()

	s := c.shardFor(actor)
	s.mu.RLock()
	e := s.actors[actor]
	s.mu.RUnlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	last, ok := e.kinds[kind]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return c.nowMillis()-last < cooldown.Milliseconds()
}

// MarkProcessed upserts the record for (actor, kind) to now.
func (c *Cache) MarkProcessed(actor, kind string) {
	if c == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.faultTotal.Add(1)
			c.printf("dedup mark fault actor=%s kind=%s: %v", actor, kind, r)
		}
	}()

	now := c.nowMillis()
	s := c.shardFor(actor)

	// Hold the shard read lock while writing so a concurrent sweep cannot
	// unlink the entry between lookup and write.
	s.mu.RLock()
	if e := s.actors[actor]; e != nil {
		e.mu.Lock()
		e.kinds[kind] = now
		e.mu.Unlock()
		s.mu.RUnlock()
		c.processedTotal.Add(1)
		return
	}
	s.mu.RUnlock()

	s.mu.Lock()
	e := s.actors[actor]
	if e == nil {
		e = &actorEntry{kinds: map[string]int64{}}
		s.actors[actor] = e
	}
	e.mu.Lock()
	e.kinds[kind] = now
	e.mu.Unlock()
	s.mu.Unlock()
	c.processedTotal.Add(1)
}

func (c *Cache) ClearActor(actor string) {
	if c == nil {
		return
	}
	s := c.shardFor(actor)
	s.mu.Lock()
	delete(s.actors, actor)
	s.mu.Unlock()
}

func (c *Cache) ClearKind(kind string) {
	if c == nil {
		return
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for id, e := range s.actors {
			e.mu.Lock()
			delete(e.kinds, kind)
			empty := len(e.kinds) == 0
			e.mu.Unlock()
			if empty {
				delete(s.actors, id)
			}
		}
		s.mu.Unlock()
	}
}

func (c *Cache) ClearAll() {
	if c == nil {
		return
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.actors = map[string]*actorEntry{}
		s.mu.Unlock()
	}
}

// SweepExpired drops records older than Expiry and actors left with no
// records. It returns the number of records removed.
func (c *Cache) SweepExpired() int {
	if c == nil {
		return 0
	}
	cutoff := c.nowMillis() - c.cfg.Expiry.Milliseconds()
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for id, e := range s.actors {
			e.mu.Lock()
			for kind, last := range e.kinds {
				if last < cutoff {
					delete(e.kinds, kind)
					removed++
				}
			}
			empty := len(e.kinds) == 0
			e.mu.Unlock()
			if empty {
				delete(s.actors, id)
			}
		}
		s.mu.Unlock()
	}
	c.sweptTotal.Add(uint64(removed))
	return removed
}

// Run sweeps every SweepInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				c.printf("dedup sweep removed=%d", n)
			}
		}
	}
}

func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	st := Stats{
		ProcessedTotal: c.processedTotal.Load(),
		SweptTotal:     c.sweptTotal.Load(),
		FaultTotal:     c.faultTotal.Load(),
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		st.Actors += len(s.actors)
		for _, e := range s.actors {
			e.mu.Lock()
			st.Entries += len(e.kinds)
			e.mu.Unlock()
		}
		s.mu.RUnlock()
	}
	return st
}

func (c *Cache) printf(format string, args ...any) {
	if c != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}
