package economy

import (
	"context"
	"sync"

	"jobeconomy.ai/internal/sim/queue"
)

// lanes orders the progress tasks of one (actor, track) pair. Each task waits
// for the one submitted before it on the same key, so writes land in
// submission order no matter which worker picks them up. The queue hands
// tasks to workers FIFO, so the task being waited on is always already
// running or finished.
type lanes struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newLanes() *lanes {
	return &lanes{tails: map[string]chan struct{}{}}
}

func laneKey(actorID, trackID string) string {
	return actorID + "\x00" + trackID
}

// enter appends a slot to the key's lane. Called on the producer goroutine,
// in submission order.
func (l *lanes) enter(key string) (prev <-chan struct{}, done chan struct{}) {
	done = make(chan struct{})
	l.mu.Lock()
	prev = l.tails[key]
	l.tails[key] = done
	l.mu.Unlock()
	return prev, done
}

func (l *lanes) leave(key string, done chan struct{}) {
	close(done)
	l.mu.Lock()
	if l.tails[key] == done {
		delete(l.tails, key)
	}
	l.mu.Unlock()
}

func (l *lanes) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}

// submitInLane submits t so that it runs after every earlier task on the same
// (actor, track) lane.
func (e *Engine) submitInLane(actorID, trackID string, t queue.Task) bool {
	key := laneKey(actorID, trackID)
	prev, done := e.lanes.enter(key)
	exec := t.Execute
	t.Execute = func(ctx context.Context) error {
		defer e.lanes.leave(key, done)
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return exec(ctx)
	}
	if !e.submit(t) {
		e.lanes.leave(key, done)
		return false
	}
	return true
}
