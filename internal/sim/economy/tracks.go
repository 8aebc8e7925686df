package economy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"jobeconomy.ai/internal/persistence/store"
	"jobeconomy.ai/internal/protocol"
	"jobeconomy.ai/internal/sim/leveling"
	"jobeconomy.ai/internal/sim/queue"
)

func newTaskID() string { return uuid.NewString() }

// handleTrackChange runs a track-join or track-leave once the actor's roster
// has loaded; until then the action is held on the presence. It reports
// whether a task was submitted.
func (e *Engine) handleTrackChange(a Action) bool {
	p, ok := e.presence[a.ActorID]
	if !ok {
		return false
	}
	if !p.loaded {
		return e.holdTrackChange(p, a)
	}
	if a.Kind == KindTrackJoin {
		return e.handleTrackJoin(a)
	}
	return e.handleTrackLeave(a)
}

// handleTrackJoin adds the track to the roster right away and creates the
// level 1 record in the background. A failed write rolls the roster back.
func (e *Engine) handleTrackJoin(a Action) bool {
	actorID, trackID := a.ActorID, a.Target
	def, ok := e.catalog.Load().Track(trackID)
	if !ok {
		e.notify(Notice{ActorID: actorID, Kind: protocol.NoticeFailure, TrackID: trackID, Message: "unknown track"})
		return false
	}
	held := e.roster[actorID]
	if held == nil {
		held = map[string]struct{}{}
		e.roster[actorID] = held
	}
	if _, ok := held[trackID]; ok {
		return false
	}
	if e.cfg.MaxTracks > 0 && len(held) >= e.cfg.MaxTracks {
		e.notify(Notice{ActorID: actorID, Kind: protocol.NoticeFailure, TrackID: trackID,
			Message: fmt.Sprintf("track limit of %d reached", e.cfg.MaxTracks)})
		return false
	}
	held[trackID] = struct{}{}

	var rec store.ActorProgress
	ok = e.submitInLane(actorID, trackID, queue.Task{
		ID:          newTaskID(),
		Description: fmt.Sprintf("track join %s %s", actorID, trackID),
		Execute: func(ctx context.Context) error {
			p, err := e.cfg.Progress.Get(ctx, actorID, trackID)
			if err == nil {
				rec = p
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			rec = store.ActorProgress{ActorID: actorID, TrackID: trackID}.WithState(leveling.State{Level: 1})
			return e.cfg.Progress.Upsert(ctx, rec)
		},
		OnSuccess: func() {
			e.notify(Notice{ActorID: actorID, Kind: protocol.NoticeTrackJoined, TrackID: trackID,
				Level: rec.Level, Experience: rec.Experience, Message: "joined " + def.Name})
		},
		OnFailure: func(err error) {
			e.failures.Add(1)
			if h := e.roster[actorID]; h != nil {
				delete(h, trackID)
			}
			e.notify(Notice{ActorID: actorID, Kind: protocol.NoticeFailure, TrackID: trackID, Message: "could not join " + def.Name})
		},
	})
	if !ok {
		delete(held, trackID)
	}
	return ok
}

func (e *Engine) handleTrackLeave(a Action) bool {
	actorID, trackID := a.ActorID, a.Target
	held := e.roster[actorID]
	if _, ok := held[trackID]; !ok {
		return false
	}
	delete(held, trackID)
	ok := e.submitInLane(actorID, trackID, queue.Task{
		ID:          newTaskID(),
		Description: fmt.Sprintf("track leave %s %s", actorID, trackID),
		Execute: func(ctx context.Context) error {
			return e.cfg.Progress.Delete(ctx, actorID, trackID)
		},
		OnSuccess: func() {
			e.notify(Notice{ActorID: actorID, Kind: protocol.NoticeTrackLeft, TrackID: trackID})
		},
		OnFailure: func(err error) {
			e.failures.Add(1)
			e.printf("track leave %s %s: %v", actorID, trackID, err)
		},
	})
	if !ok {
		held[trackID] = struct{}{}
	}
	return ok
}
