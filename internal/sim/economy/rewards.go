package economy

import (
	"context"
	"errors"
	"fmt"

	ledger "jobeconomy.ai/internal/persistence/log"
	"jobeconomy.ai/internal/persistence/store"
	"jobeconomy.ai/internal/protocol"
	"jobeconomy.ai/internal/sim/catalogs"
	"jobeconomy.ai/internal/sim/leveling"
	"jobeconomy.ai/internal/sim/queue"
)

type trackReward struct {
	track  catalogs.TrackDef
	reward catalogs.Reward
}

// handleReward submits the balance and experience tasks an admitted action
// earns. It reports whether anything was submitted.
func (e *Engine) handleReward(a Action) bool {
	cat := e.catalog.Load()
	var (
		income  float64
		earning []trackReward
	)
	for _, id := range e.heldTracks(a.ActorID) {
		r, ok := cat.Reward(id, a.Kind, a.Target)
		if !ok || r.IsZero() {
			continue
		}
		def, _ := cat.Track(id)
		income += r.Income
		earning = append(earning, trackReward{track: def, reward: r})
	}
	if len(earning) == 0 {
		e.unrewarded.Add(1)
		return false
	}

	submitted := false
	if income > 0 {
		submitted = e.submitIncome(a, income) || submitted
	}
	for _, tr := range earning {
		if tr.reward.Experience > 0 {
			submitted = e.submitExperience(a, tr) || submitted
		}
	}
	return submitted
}

func (e *Engine) submitIncome(a Action, amount float64) bool {
	actorID := a.ActorID
	id := newTaskID()
	return e.submit(queue.Task{
		ID:          id,
		Description: fmt.Sprintf("income %s %s %.2f", actorID, a.Kind, amount),
		Execute: func(ctx context.Context) error {
			err := e.cfg.Balances.Add(ctx, actorID, amount)
			en := ledger.Entry{TaskID: id, ActorID: actorID, Kind: a.Kind, Target: a.Target, Income: amount, Outcome: "SUCCESS"}
			if err != nil {
				en.Outcome, en.Error = leveling.OutcomeDatabaseError.String(), err.Error()
			}
			e.appendLedger(en)
			return err
		},
		OnFailure: func(err error) {
			e.failures.Add(1)
			e.notify(Notice{ActorID: actorID, Kind: protocol.NoticeFailure, Message: "income not recorded"})
		},
	})
}

func (e *Engine) submitExperience(a Action, tr trackReward) bool {
	actorID, trackID := a.ActorID, tr.track.ID
	params := tr.track.Leveling()
	delta := tr.reward.Experience
	id := newTaskID()

	var (
		result  leveling.State
		outcome leveling.Outcome
	)
	return e.submitInLane(actorID, trackID, queue.Task{
		ID:          id,
		Description: fmt.Sprintf("experience %s %s %.2f", actorID, trackID, delta),
		Execute: func(ctx context.Context) error {
			var err error
			result, outcome, err = e.awardExperience(ctx, actorID, trackID, delta, params)
			en := ledger.Entry{
				TaskID:     id,
				ActorID:    actorID,
				Kind:       a.Kind,
				Target:     a.Target,
				TrackID:    trackID,
				Experience: delta,
				Level:      result.Level,
				Outcome:    outcome.String(),
			}
			if err != nil {
				en.Error = err.Error()
			}
			e.appendLedger(en)
			return err
		},
		OnSuccess: func() {
			if outcome != leveling.OutcomeLevelUp {
				return
			}
			e.levelUps.Add(1)
			kind := protocol.NoticeLevelUp
			if result.Level >= params.MaxLevel {
				kind = protocol.NoticeMaxLevel
			}
			e.notify(Notice{
				ActorID:    actorID,
				Kind:       kind,
				TrackID:    trackID,
				Level:      result.Level,
				Experience: result.Experience,
				Message:    fmt.Sprintf("%s reached level %d", tr.track.Name, result.Level),
			})
		},
		OnFailure: func(err error) {
			e.failures.Add(1)
			e.notify(Notice{ActorID: actorID, Kind: protocol.NoticeFailure, TrackID: trackID, Message: "experience not recorded"})
		},
	})
}

// awardExperience runs on a queue worker. A missing record is a database
// error before the leveling engine is consulted; max level is a terminal
// outcome and writes nothing.
func (e *Engine) awardExperience(ctx context.Context, actorID, trackID string, delta float64, params leveling.Track) (leveling.State, leveling.Outcome, error) {
	p, err := e.cfg.Progress.Get(ctx, actorID, trackID)
	if errors.Is(err, store.ErrNotFound) {
		return leveling.State{}, leveling.OutcomeDatabaseError, fmt.Errorf("%s/%s: %w", actorID, trackID, ErrMissingProgress)
	}
	if err != nil {
		return leveling.State{}, leveling.OutcomeDatabaseError, err
	}
	next, outcome := e.cfg.Curve.AddExperience(p.State(), delta, params)
	switch outcome {
	case leveling.OutcomeMaxLevelReached:
		return next, outcome, nil
	case leveling.OutcomeInvalidAmount:
		return next, outcome, fmt.Errorf("invalid experience delta %v", delta)
	}
	if err := e.cfg.Progress.Upsert(ctx, p.WithState(next)); err != nil {
		return p.State(), leveling.OutcomeDatabaseError, err
	}
	return next, outcome, nil
}
