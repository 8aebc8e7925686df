// Package economy turns the producer's action stream into persisted balances
// and track progress.
//
// All handler state (presence, rosters) is owned by the goroutine running
// Run. Persistence happens on queue workers; their continuations come back
// through the queue mailbox and are drained once per tick, so handler state
// is never touched from another goroutine.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"jobeconomy.ai/internal/persistence/store"
	"jobeconomy.ai/internal/sim/admission"
	"jobeconomy.ai/internal/sim/catalogs"
	"jobeconomy.ai/internal/sim/dedup"
	"jobeconomy.ai/internal/sim/leveling"
	"jobeconomy.ai/internal/sim/queue"

	ledger "jobeconomy.ai/internal/persistence/log"
)

// Control kinds. Everything else is a reward action looked up in the catalogue.
const (
	KindSessionJoin  = "session-join"
	KindSessionLeave = "session-leave"
	KindMove         = "move"
	KindTrackJoin    = "track-join"
	KindTrackLeave   = "track-leave"
)

var ErrMissingProgress = errors.New("economy: missing progress record")

type Action struct {
	Kind    string
	ActorID string
	// Target is what the action acted on (block, mob, item). For track
	// kinds it is the track id.
	Target string

	// Presence fields. Applied by session-join and move; on reward kinds a
	// non-empty value updates presence before admission.
	Name      string
	Zone      string
	Mode      string
	Synthetic bool
}

type Notice struct {
	ActorID    string
	Kind       string
	TrackID    string
	Level      int
	Experience float64
	Message    string
}

// Notifier receives notices on the producer goroutine and must not block.
type Notifier interface {
	Notify(Notice)
}

type Ledger interface {
	Append(ledger.Entry) error
}

type Config struct {
	TickInterval time.Duration
	InboxSize    int
	// MaxTracks caps how many tracks one actor may hold; 0 means no cap.
	MaxTracks int
	// Curve is the level threshold function; zero means leveling.DefaultCurve.
	Curve leveling.Curve

	Gate      admission.Config
	Cooldowns dedup.Cooldowns
	Catalog   *catalogs.Catalog

	Queue    *queue.Queue
	Dedup    *dedup.Cache
	Progress store.ProgressStore
	Balances store.BalanceStore
	Ledger   Ledger
	Notifier Notifier

	Logger *log.Logger
	Now    func() time.Time
}

type Stats struct {
	Received       uint64 `json:"received"`
	InboxDropped   uint64 `json:"inbox_dropped"`
	Rejected       uint64 `json:"rejected"`
	Duplicates     uint64 `json:"duplicates"`
	Unrewarded     uint64 `json:"unrewarded"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	SubmitErrors   uint64 `json:"submit_errors"`
	LevelUps       uint64 `json:"level_ups"`
	Failures       uint64 `json:"failures"`
	Ticks          uint64 `json:"ticks"`
	InboxDepth     int    `json:"inbox_depth"`
	OnlineActors   int64  `json:"online_actors"`
}

type Engine struct {
	cfg   Config
	gate  *admission.Gate
	inbox chan Action
	stop  chan struct{}

	cooldowns atomic.Pointer[dedup.Cooldowns]
	catalog   atomic.Pointer[catalogs.Catalog]
	notifier  atomic.Pointer[notifierBox]

	// Producer-owned.
	presence map[string]*presence
	roster   map[string]map[string]struct{}
	session  uint64

	lanes *lanes

	received       atomic.Uint64
	inboxDropped   atomic.Uint64
	rejected       atomic.Uint64
	duplicates     atomic.Uint64
	unrewarded     atomic.Uint64
	tasksSubmitted atomic.Uint64
	submitErrors   atomic.Uint64
	levelUps       atomic.Uint64
	failures       atomic.Uint64
	ticks          atomic.Uint64
	online         atomic.Int64
}

type notifierBox struct{ n Notifier }

func New(cfg Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Dedup == nil {
		return nil, errors.New("economy: queue and dedup cache are required")
	}
	if cfg.Progress == nil || cfg.Balances == nil {
		return nil, errors.New("economy: progress and balance stores are required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 4096
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Curve == (leveling.Curve{}) {
		cfg.Curve = leveling.DefaultCurve()
	}
	if err := cfg.Curve.Validate(); err != nil {
		return nil, fmt.Errorf("economy: %w", err)
	}
	e := &Engine{
		cfg:      cfg,
		inbox:    make(chan Action, cfg.InboxSize),
		stop:     make(chan struct{}),
		presence: map[string]*presence{},
		roster:   map[string]map[string]struct{}{},
		lanes:    newLanes(),
	}
	e.gate = admission.New(cfg.Gate, directory{e}, trackView{e})
	cd := cfg.Cooldowns
	e.cooldowns.Store(&cd)
	e.catalog.Store(cfg.Catalog)
	if cfg.Notifier != nil {
		e.SetNotifier(cfg.Notifier)
	}
	return e, nil
}

func (e *Engine) Gate() *admission.Gate { return e.gate }

// SetNotifier replaces the notice sink. Safe from any goroutine.
func (e *Engine) SetNotifier(n Notifier) { e.notifier.Store(&notifierBox{n: n}) }

// SetCooldowns swaps the per-kind dedup windows.
func (e *Engine) SetCooldowns(c dedup.Cooldowns) { e.cooldowns.Store(&c) }

func (e *Engine) SetCatalog(c *catalogs.Catalog) { e.catalog.Store(c) }

func (e *Engine) Catalog() *catalogs.Catalog { return e.catalog.Load() }

// Reload applies new admission rules and cooldowns without a restart.
func (e *Engine) Reload(gate admission.Config, cooldowns dedup.Cooldowns) {
	e.gate.Reload(gate)
	e.SetCooldowns(cooldowns)
}

// Submit hands an action to the producer without blocking. It returns
// false when the inbox is full.
func (e *Engine) Submit(a Action) bool {
	select {
	case e.inbox <- a:
		e.received.Add(1)
		return true
	default:
		e.inboxDropped.Add(1)
		return false
	}
}

func (e *Engine) TickRateHz() int {
	return int(time.Second / e.cfg.TickInterval)
}

func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	var pending []Action
	for {
		select {
		case <-ctx.Done():
			e.drainInbox(&pending)
			e.Step(pending)
			return ctx.Err()
		case <-e.stop:
			return nil
		case a := <-e.inbox:
			pending = append(pending, a)
		case <-ticker.C:
			e.Step(pending)
			pending = pending[:0]
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) drainInbox(pending *[]Action) {
	for {
		select {
		case a := <-e.inbox:
			*pending = append(*pending, a)
		default:
			return
		}
	}
}

// Step handles one tick: actions in arrival order, then any completed task
// continuations. Only the producer goroutine may call it; tests drive it
// directly instead of running Run.
func (e *Engine) Step(actions []Action) {
	e.ticks.Add(1)
	for _, a := range actions {
		e.handle(a)
	}
	e.cfg.Queue.DispatchResults()
}

// Finish delivers continuations that completed after Run returned. Call it
// once the queue has shut down.
func (e *Engine) Finish() int {
	return e.cfg.Queue.DispatchResults()
}

func (e *Engine) handle(a Action) {
	switch a.Kind {
	case KindSessionJoin:
		e.handleSessionJoin(a)
	case KindSessionLeave:
		e.handleSessionLeave(a)
	case KindMove:
		e.handleMove(a)
	case KindTrackJoin, KindTrackLeave:
		if !e.admit(a) {
			return
		}
		if e.handleTrackChange(a) {
			e.cfg.Dedup.MarkProcessed(a.ActorID, a.Kind)
		}
	default:
		e.applyPresence(a)
		if !e.admit(a) {
			return
		}
		if e.handleReward(a) {
			e.cfg.Dedup.MarkProcessed(a.ActorID, a.Kind)
		}
	}
}

// admit runs the gate then the dedup window.
func (e *Engine) admit(a Action) bool {
	if !e.gate.Admit(admission.Action{Kind: a.Kind, ActorID: a.ActorID}) {
		e.rejected.Add(1)
		return false
	}
	if e.cfg.Dedup.IsRecentlyProcessed(a.ActorID, a.Kind, e.cooldowns.Load().For(a.Kind)) {
		e.duplicates.Add(1)
		return false
	}
	return true
}

func (e *Engine) submit(t queue.Task) bool {
	if err := e.cfg.Queue.Submit(t); err != nil {
		e.submitErrors.Add(1)
		e.printf("submit %s: %v", t.Description, err)
		return false
	}
	e.tasksSubmitted.Add(1)
	return true
}

func (e *Engine) notify(n Notice) {
	if b := e.notifier.Load(); b != nil && b.n != nil {
		b.n.Notify(n)
	}
}

func (e *Engine) appendLedger(en ledger.Entry) {
	if e.cfg.Ledger == nil {
		return
	}
	if en.Time.IsZero() {
		en.Time = e.cfg.Now().UTC()
	}
	if err := e.cfg.Ledger.Append(en); err != nil {
		e.printf("ledger append: %v", err)
	}
}

func (e *Engine) Stats() Stats {
	return Stats{
		Received:       e.received.Load(),
		InboxDropped:   e.inboxDropped.Load(),
		Rejected:       e.rejected.Load(),
		Duplicates:     e.duplicates.Load(),
		Unrewarded:     e.unrewarded.Load(),
		TasksSubmitted: e.tasksSubmitted.Load(),
		SubmitErrors:   e.submitErrors.Load(),
		LevelUps:       e.levelUps.Load(),
		Failures:       e.failures.Load(),
		Ticks:          e.ticks.Load(),
		InboxDepth:     len(e.inbox),
		OnlineActors:   e.online.Load(),
	}
}

func (e *Engine) printf(format string, args ...any) {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Printf(format, args...)
	}
}
