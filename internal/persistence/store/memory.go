package store

import (
	"context"
	"sync"
	"time"
)

type progressKey struct {
	actor string
	track string
}

// Memory implements ProgressStore and BalanceStore in process.
type Memory struct {
	Now func() time.Time

	mu       sync.Mutex
	progress map[progressKey]ActorProgress
	balances map[string]float64
}

func NewMemory() *Memory {
	return &Memory{
		Now:      time.Now,
		progress: map[progressKey]ActorProgress{},
		balances: map[string]float64{},
	}
}

func (m *Memory) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *Memory) Get(ctx context.Context, actorID, trackID string) (ActorProgress, error) {
	if err := ctx.Err(); err != nil {
		return ActorProgress{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[progressKey{actorID, trackID}]
	if !ok {
		return ActorProgress{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) Upsert(ctx context.Context, p ActorProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.UpdatedAt = m.now().UTC()
	m.mu.Lock()
	m.progress[progressKey{p.ActorID, p.TrackID}] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListByActor(ctx context.Context, actorID string) ([]ActorProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var out []ActorProgress
	for k, p := range m.progress {
		if k.actor == actorID {
			out = append(out, p)
		}
	}
	m.mu.Unlock()
	SortByTrack(out)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, actorID, trackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.progress, progressKey{actorID, trackID})
	m.mu.Unlock()
	return nil
}

func (m *Memory) Balance(ctx context.Context, actorID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[actorID], nil
}

func (m *Memory) Add(ctx context.Context, actorID string, delta float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validAmount(delta) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	m.balances[actorID] += delta
	m.mu.Unlock()
	return nil
}

func (m *Memory) Subtract(ctx context.Context, actorID string, delta float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validAmount(delta) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[actorID] < delta {
		return ErrInsufficientFunds
	}
	m.balances[actorID] -= delta
	return nil
}
