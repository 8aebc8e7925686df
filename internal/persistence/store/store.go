// Package store defines the persistence contracts the reward pipeline writes
// through, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"jobeconomy.ai/internal/sim/leveling"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrInvalidAmount     = errors.New("store: invalid amount")
	ErrInsufficientFunds = errors.New("store: insufficient funds")
)

// ActorProgress is one actor's standing on one progression track.
type ActorProgress struct {
	ActorID    string    `json:"actor_id"`
	TrackID    string    `json:"track_id"`
	Level      int       `json:"level"`
	Experience float64   `json:"experience"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p ActorProgress) State() leveling.State {
	return leveling.State{Level: p.Level, Experience: p.Experience}
}

func (p ActorProgress) WithState(s leveling.State) ActorProgress {
	p.Level = s.Level
	p.Experience = s.Experience
	return p
}

type ProgressStore interface {
	// Get returns ErrNotFound when the actor does not hold the track.
	Get(ctx context.Context, actorID, trackID string) (ActorProgress, error)
	Upsert(ctx context.Context, p ActorProgress) error
	ListByActor(ctx context.Context, actorID string) ([]ActorProgress, error)
	Delete(ctx context.Context, actorID, trackID string) error
}

type BalanceStore interface {
	// Balance returns 0 for actors with no account yet.
	Balance(ctx context.Context, actorID string) (float64, error)
	Add(ctx context.Context, actorID string, delta float64) error
	// Subtract fails with ErrInsufficientFunds rather than going negative.
	Subtract(ctx context.Context, actorID string, delta float64) error
}

// CurrentTrack singles out the most recently updated record. Ties go to the
// lowest track id so the choice is stable.
func CurrentTrack(records []ActorProgress) (ActorProgress, bool) {
	if len(records) == 0 {
		return ActorProgress{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		switch {
		case r.UpdatedAt.After(best.UpdatedAt):
			best = r
		case r.UpdatedAt.Equal(best.UpdatedAt) && r.TrackID < best.TrackID:
			best = r
		}
	}
	return best, true
}

// SortByTrack orders records by track id in place.
func SortByTrack(records []ActorProgress) {
	sort.Slice(records, func(i, j int) bool { return records[i].TrackID < records[j].TrackID })
}

func validAmount(delta float64) bool {
	return delta > 0 && delta < 1e300
}
