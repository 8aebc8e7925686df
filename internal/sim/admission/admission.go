// Package admission decides cheaply whether an inbound action may proceed to
// reward handling.
//
// The gate folds an ordered predicate chain and stops at the first failure.
// Rules are swapped atomically on Reload, so the producer goroutine never
// takes a lock to evaluate.
package admission

import (
	"strings"
	"sync/atomic"
)

// Modes that are excluded no matter what the configuration says.
const (
	ModeCreative  = "creative"
	ModeSpectator = "spectator"
)

const (
	DefaultBasePermission       = "jobs.use"
	DefaultKindPermissionPrefix = "jobs.action."
)

type Reason string

const (
	ReasonDisabled     Reason = "disabled"
	ReasonNoActor      Reason = "no_actor"
	ReasonInvalidActor Reason = "invalid_actor"
	ReasonExcludedZone Reason = "excluded_zone"
	ReasonExcludedMode Reason = "excluded_mode"
	ReasonNoPermission Reason = "no_permission"
	ReasonNoTrack      Reason = "no_track"
)

// Reasons lists every rejection reason in chain order.
var Reasons = reasonIndex[:]

// Action is the part of an inbound action the gate looks at.
type Action struct {
	Kind    string
	ActorID string
}

// Actor is the gate's view of the actor behind an action.
type Actor struct {
	ID        string
	Online    bool
	Synthetic bool
	Zone      string
	Mode      string
}

type Directory interface {
	Actor(id string) (Actor, bool)
}

type Tracks interface {
	HasActiveTrack(actorID string) bool
}

type Config struct {
	Enabled              bool
	ExcludedZones        []string
	ExcludedModes        []string
	ExemptActionKinds    []string
	RequireExplicitGrant bool
	CheckKindPermissions bool
	BasePermission       string
	KindPermissionPrefix string
	Permissions          Permissions
}

type Decision struct {
	Admitted bool
	Reason   Reason
}

type ConfigCounts struct {
	ExcludedZones int `json:"excluded_zones"`
	ExcludedModes int `json:"excluded_modes"`
	ExemptKinds   int `json:"exempt_kinds"`
}

type Stats struct {
	Admitted uint64            `json:"admitted"`
	Rejected map[Reason]uint64 `json:"rejected"`
}

type Gate struct {
	dir    Directory
	tracks Tracks

	rules atomic.Pointer[rules]

	admitted atomic.Uint64
	rejected [len(reasonIndex)]atomic.Uint64
}

type rules struct {
	enabled      bool
	zones        map[string]struct{}
	modes        map[string]struct{}
	exempt       map[string]struct{}
	requireGrant bool
	checkKind    bool
	base         string
	kindPrefix   string
	perms        Permissions
	counts       ConfigCounts
}

// reasonIndex backs the per-reason counters; the array length sizes them.
var reasonIndex = [...]Reason{
	ReasonDisabled,
	ReasonNoActor,
	ReasonInvalidActor,
	ReasonExcludedZone,
	ReasonExcludedMode,
	ReasonNoPermission,
	ReasonNoTrack,
}

func New(cfg Config, dir Directory, tracks Tracks) *Gate {
	g := &Gate{dir: dir, tracks: tracks}
	g.Reload(cfg)
	return g
}

// Reload swaps in a new rule set. Safe to call from any goroutine.
func (g *Gate) Reload(cfg Config) {
	r := &rules{
		enabled:      cfg.Enabled,
		zones:        toSet(cfg.ExcludedZones, true),
		modes:        toSet(cfg.ExcludedModes, true),
		exempt:       toSet(cfg.ExemptActionKinds, false),
		requireGrant: cfg.RequireExplicitGrant,
		checkKind:    cfg.CheckKindPermissions,
		base:         strings.TrimSpace(cfg.BasePermission),
		kindPrefix:   strings.TrimSpace(cfg.KindPermissionPrefix),
		perms:        cfg.Permissions,
	}
	if r.base == "" {
		r.base = DefaultBasePermission
	}
	if r.kindPrefix == "" {
		r.kindPrefix = DefaultKindPermissionPrefix
	}
	r.counts = ConfigCounts{
		ExcludedZones: len(r.zones),
		ExcludedModes: len(r.modes),
		ExemptKinds:   len(r.exempt),
	}
	g.rules.Store(r)
}

func toSet(vals []string, fold bool) map[string]struct{} {
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if fold {
			v = strings.ToLower(v)
		}
		out[v] = struct{}{}
	}
	return out
}

type evaluation struct {
	rules  *rules
	action Action
	actor  Actor
}

type predicate struct {
	reason Reason
	check  func(g *Gate, ev *evaluation) bool
}

// chain is evaluated in order; the first failing predicate decides.
var chain = []predicate{
	{ReasonDisabled, func(_ *Gate, ev *evaluation) bool {
		return ev.rules.enabled
	}},
	{ReasonNoActor, func(g *Gate, ev *evaluation) bool {
		if ev.action.ActorID == "" || g.dir == nil {
			return false
		}
		a, ok := g.dir.Actor(ev.action.ActorID)
		if !ok {
			return false
		}
		ev.actor = a
		return true
	}},
	{ReasonInvalidActor, func(_ *Gate, ev *evaluation) bool {
		return ev.actor.Online && !ev.actor.Synthetic
	}},
	{ReasonExcludedZone, func(_ *Gate, ev *evaluation) bool {
		_, excluded := ev.rules.zones[strings.ToLower(strings.TrimSpace(ev.actor.Zone))]
		return !excluded
	}},
	{ReasonExcludedMode, func(_ *Gate, ev *evaluation) bool {
		mode := strings.ToLower(strings.TrimSpace(ev.actor.Mode))
		if mode == ModeCreative || mode == ModeSpectator {
			return false
		}
		_, excluded := ev.rules.modes[mode]
		return !excluded
	}},
	{ReasonNoPermission, func(_ *Gate, ev *evaluation) bool {
		r := ev.rules
		if !r.allowed(ev.actor.ID, r.base) {
			return false
		}
		if r.checkKind && ev.action.Kind != "" {
			return r.allowed(ev.actor.ID, r.kindPrefix+ev.action.Kind)
		}
		return true
	}},
	{ReasonNoTrack, func(g *Gate, ev *evaluation) bool {
		if _, ok := ev.rules.exempt[ev.action.Kind]; ok {
			return true
		}
		return g.tracks != nil && g.tracks.HasActiveTrack(ev.actor.ID)
	}},
}

func (r *rules) allowed(actorID, node string) bool {
	state := PermissionUnset
	if r.perms != nil {
		state = r.perms.Permission(actorID, node)
	}
	if r.requireGrant {
		return state == PermissionGranted
	}
	return state != PermissionDenied
}

// Evaluate runs the chain and records the decision in the gate's counters.
func (g *Gate) Evaluate(a Action) Decision {
	ev := evaluation{rules: g.rules.Load(), action: a}
	for _, p := range chain {
		if !p.check(g, &ev) {
			g.countReject(p.reason)
			return Decision{Reason: p.reason}
		}
	}
	g.admitted.Add(1)
	return Decision{Admitted: true}
}

func (g *Gate) Admit(a Action) bool { return g.Evaluate(a).Admitted }

func (g *Gate) countReject(r Reason) {
	for i, known := range reasonIndex {
		if known == r {
			g.rejected[i].Add(1)
			return
		}
	}
}

func (g *Gate) Counts() ConfigCounts { return g.rules.Load().counts }

func (g *Gate) Enabled() bool { return g.rules.Load().enabled }

func (g *Gate) Stats() Stats {
	st := Stats{Admitted: g.admitted.Load(), Rejected: make(map[Reason]uint64, len(reasonIndex))}
	for i, r := range reasonIndex {
		st.Rejected[r] = g.rejected[i].Load()
	}
	return st
}
