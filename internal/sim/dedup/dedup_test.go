package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCache_CooldownWindow(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{Now: clk.Now})

	if c.IsRecentlyProcessed("A1", "block-break", 50*time.Millisecond) {
		t.Fatalf("unseen pair must be a miss")
	}
	c.MarkProcessed("A1", "block-break")
	if !c.IsRecentlyProcessed("A1", "block-break", 50*time.Millisecond) {
		t.Fatalf("expected hit immediately after mark")
	}

	clk.Advance(30 * time.Millisecond)
	if !c.IsRecentlyProcessed("A1", "block-break", 50*time.Millisecond) {
		t.Fatalf("expected hit at t=30ms")
	}
	clk.Advance(30 * time.Millisecond)
	if c.IsRecentlyProcessed("A1", "block-break", 50*time.Millisecond) {
		t.Fatalf("expected miss at t=60ms")
	}
}

func TestCache_KindsAndActorsAreIndependent(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{Now: clk.Now})
	c.MarkProcessed("A1", "craft")

	if c.IsRecentlyProcessed("A1", "block-break", time.Second) {
		t.Fatalf("other kind should not be suppressed")
	}
	if c.IsRecentlyProcessed("A2", "craft", time.Second) {
		t.Fatalf("other actor should not be suppressed")
	}
	if c.IsRecentlyProcessed("A1", "craft", 0) {
		t.Fatalf("zero cooldown never suppresses")
	}
	if got := c.Stats().ProcessedTotal; got != 1 {
		t.Fatalf("ProcessedTotal=%d want 1", got)
	}
}

func TestCache_ClearOperations(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{Now: clk.Now})
	c.MarkProcessed("A1", "craft")
	c.MarkProcessed("A1", "fish")
	c.MarkProcessed("A2", "craft")

	c.ClearKind("craft")
	if c.IsRecentlyProcessed("A1", "craft", time.Hour) || c.IsRecentlyProcessed("A2", "craft", time.Hour) {
		t.Fatalf("ClearKind left craft records")
	}
	if !c.IsRecentlyProcessed("A1", "fish", time.Hour) {
		t.Fatalf("ClearKind removed another kind")
	}
	st := c.Stats()
	if st.Actors != 1 || st.Entries != 1 {
		t.Fatalf("stats after ClearKind: %+v", st)
	}

	c.ClearActor("A1")
	if c.IsRecentlyProcessed("A1", "fish", time.Hour) {
		t.Fatalf("ClearActor left records")
	}

	c.MarkProcessed("A3", "craft")
	c.ClearAll()
	if st := c.Stats(); st.Actors != 0 || st.Entries != 0 {
		t.Fatalf("ClearAll left state: %+v", st)
	}
}

func TestCache_SweepExpired(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{Now: clk.Now, Expiry: 5 * time.Minute})
	c.MarkProcessed("A1", "craft")
	c.MarkProcessed("A2", "craft")

	clk.Advance(4 * time.Minute)
	c.MarkProcessed("A2", "fish")

	if n := c.SweepExpired(); n != 0 {
		t.Fatalf("nothing expired yet, removed=%d", n)
	}

	clk.Advance(2 * time.Minute)
	if n := c.SweepExpired(); n != 2 {
		t.Fatalf("removed=%d want 2", n)
	}
	st := c.Stats()
	if st.Actors != 1 || st.Entries != 1 {
		t.Fatalf("expected only A2/fish to survive, got %+v", st)
	}
	if st.SweptTotal != 2 {
		t.Fatalf("SweptTotal=%d want 2", st.SweptTotal)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Config{Expiry: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sweeper sync.WaitGroup
	sweeper.Add(1)
	go func() {
		defer sweeper.Done()
		for ctx.Err() == nil {
			c.SweepExpired()
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				actor := fmt.Sprintf("A%d", (g*7+i)%64)
				c.MarkProcessed(actor, "craft")
				_ = c.IsRecentlyProcessed(actor, "craft", time.Second)
			}
		}(g)
	}
	wg.Wait()
	cancel()
	sweeper.Wait()

	if got := c.Stats().ProcessedTotal; got != 8*2000 {
		t.Fatalf("ProcessedTotal=%d want %d", got, 8*2000)
	}
}

func TestCache_RunSweepsPeriodically(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{Now: clk.Now, Expiry: time.Second, SweepInterval: 5 * time.Millisecond})
	c.MarkProcessed("A1", "craft")
	clk.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.Stats().Entries != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if st := c.Stats(); st.Entries != 0 || st.Actors != 0 {
		t.Fatalf("background sweep did not run: %+v", st)
	}
}

func TestCooldowns_For(t *testing.T) {
	cd := CooldownsFromMillis(100, map[string]int{"craft": 2000, "move": 0})
	if cd.For("craft") != 2*time.Second {
		t.Fatalf("craft=%v", cd.For("craft"))
	}
	if cd.For("move") != 0 {
		t.Fatalf("explicit zero should win over default")
	}
	if cd.For("fish") != 100*time.Millisecond {
		t.Fatalf("default not applied: %v", cd.For("fish"))
	}
}
