package economy

import (
	"context"
	"fmt"
	"sort"

	"jobeconomy.ai/internal/persistence/store"
	"jobeconomy.ai/internal/protocol"
	"jobeconomy.ai/internal/sim/admission"
	"jobeconomy.ai/internal/sim/queue"
)

// maxHeldTrackChanges bounds the track actions kept while a roster loads.
const maxHeldTrackChanges = 8

type presence struct {
	name      string
	zone      string
	mode      string
	synthetic bool
	// session distinguishes reconnects so a stale roster load is ignored.
	session uint64

	// loaded is set once the stored roster has been merged. Track changes
	// arriving before that wait in held.
	loaded  bool
	loading bool
	held    []Action
}

func (e *Engine) handleSessionJoin(a Action) {
	if a.ActorID == "" {
		return
	}
	if _, ok := e.presence[a.ActorID]; !ok {
		e.online.Add(1)
	}
	e.session++
	p := &presence{
		name:      a.Name,
		zone:      a.Zone,
		mode:      a.Mode,
		synthetic: a.Synthetic,
		session:   e.session,
	}
	e.presence[a.ActorID] = p
	if e.roster[a.ActorID] == nil {
		e.roster[a.ActorID] = map[string]struct{}{}
	}
	e.loadRoster(a.ActorID, p)
}

// loadRoster merges the actor's stored tracks into the roster, then replays
// any track changes held meanwhile.
func (e *Engine) loadRoster(actorID string, p *presence) {
	session := p.session
	var loaded []store.ActorProgress
	p.loading = e.submit(queue.Task{
		Description: fmt.Sprintf("roster load %s", actorID),
		Execute: func(ctx context.Context) error {
			recs, err := e.cfg.Progress.ListByActor(ctx, actorID)
			if err != nil {
				return err
			}
			loaded = recs
			return nil
		},
		OnSuccess: func() {
			cur, ok := e.presence[actorID]
			if !ok || cur.session != session {
				return
			}
			held := e.roster[actorID]
			for _, r := range loaded {
				held[r.TrackID] = struct{}{}
			}
			cur.loaded, cur.loading = true, false
			pending := cur.held
			cur.held = nil
			for _, a := range pending {
				if e.handleTrackChange(a) {
					e.cfg.Dedup.MarkProcessed(a.ActorID, a.Kind)
				}
			}
		},
		OnFailure: func(err error) {
			e.failures.Add(1)
			e.printf("roster load %s: %v", actorID, err)
			cur, ok := e.presence[actorID]
			if !ok || cur.session != session {
				return
			}
			cur.loading = false
			e.refuseHeld(cur)
		},
	})
}

// holdTrackChange parks a track action until the roster load finishes and
// starts a new load if none is running.
func (e *Engine) holdTrackChange(p *presence, a Action) bool {
	if len(p.held) >= maxHeldTrackChanges {
		e.notify(Notice{ActorID: a.ActorID, Kind: protocol.NoticeFailure, TrackID: a.Target, Message: "tracks still loading"})
		return false
	}
	p.held = append(p.held, a)
	if !p.loading {
		e.loadRoster(a.ActorID, p)
		if !p.loading {
			e.refuseHeld(p)
		}
	}
	return false
}

func (e *Engine) refuseHeld(p *presence) {
	for _, a := range p.held {
		e.notify(Notice{ActorID: a.ActorID, Kind: protocol.NoticeFailure, TrackID: a.Target, Message: "tracks could not be loaded"})
	}
	p.held = nil
}

func (e *Engine) handleSessionLeave(a Action) {
	if _, ok := e.presence[a.ActorID]; !ok {
		return
	}
	delete(e.presence, a.ActorID)
	delete(e.roster, a.ActorID)
	e.online.Add(-1)
	e.cfg.Dedup.ClearActor(a.ActorID)
}

func (e *Engine) handleMove(a Action) {
	e.applyPresence(a)
}

func (e *Engine) applyPresence(a Action) {
	p, ok := e.presence[a.ActorID]
	if !ok {
		return
	}
	if a.Zone != "" {
		p.zone = a.Zone
	}
	if a.Mode != "" {
		p.mode = a.Mode
	}
}

// heldTracks returns the actor's tracks in id order.
func (e *Engine) heldTracks(actorID string) []string {
	held := e.roster[actorID]
	out := make([]string, 0, len(held))
	for id := range held {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// directory and trackView let the gate read producer state. The gate is
// only evaluated on the producer goroutine.
type directory struct{ e *Engine }

func (d directory) Actor(id string) (admission.Actor, bool) {
	p, ok := d.e.presence[id]
	if !ok {
		return admission.Actor{}, false
	}
	return admission.Actor{
		ID:        id,
		Online:    true,
		Synthetic: p.synthetic,
		Zone:      p.zone,
		Mode:      p.mode,
	}, true
}

type trackView struct{ e *Engine }

func (t trackView) HasActiveTrack(actorID string) bool {
	return len(t.e.roster[actorID]) > 0
}
