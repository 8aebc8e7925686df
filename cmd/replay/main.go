package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ledger "jobeconomy.ai/internal/persistence/log"
	"jobeconomy.ai/internal/persistence/sqlstore"
	"jobeconomy.ai/internal/persistence/store"
	"jobeconomy.ai/internal/sim/catalogs"
	"jobeconomy.ai/internal/sim/leveling"
	"jobeconomy.ai/internal/sim/tuning"
)

// replay rebuilds balances and track progress from the reward ledger and
// optionally checks them against a live store.
func main() {
	var (
		dataDir     = flag.String("data", "./data", "runtime data directory")
		ledgerDir   = flag.String("ledger", "", "ledger dir (optional; defaults to <data>/ledger)")
		configDir   = flag.String("configs", "./configs", "config directory")
		verifyPath  = flag.String("verify", "", "sqlite store to compare against (optional)")
		outPath     = flag.String("out", "", "write the rebuilt state to this sqlite path (optional)")
		maxMismatch = flag.Int("max_mismatches", 20, "stop printing after this many mismatches")
	)
	flag.Parse()

	tune, err := tuning.Load(filepath.Join(*configDir, "economy.yaml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	cat, err := catalogs.Load(filepath.Join(*configDir, "rewards.yaml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load rewards:", err)
		os.Exit(1)
	}
	dir := strings.TrimSpace(*ledgerDir)
	if dir == "" {
		dir = filepath.Join(*dataDir, "ledger")
	}
	files, err := ledger.Files(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read ledger:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := rebuild(ctx, files, cat, tune.Leveling.Curve)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: files=%d entries=%d applied=%d skipped=%d actors=%d records=%d\n",
		len(files), st.entries, st.applied, st.skipped, len(st.balances), len(st.progress))

	if p := strings.TrimSpace(*outPath); p != "" {
		dst, err := sqlstore.OpenSQLite(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open out:", err)
			os.Exit(1)
		}
		err = st.writeTo(ctx, dst)
		_ = dst.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, "write out:", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", p)
	}

	if p := strings.TrimSpace(*verifyPath); p != "" {
		live, err := sqlstore.OpenSQLite(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open verify:", err)
			os.Exit(1)
		}
		defer live.Close()
		mismatches, err := st.verify(ctx, live)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		for i, m := range mismatches {
			if i >= *maxMismatch {
				fmt.Printf("... %d more\n", len(mismatches)-i)
				break
			}
			fmt.Println(m)
		}
		if len(mismatches) > 0 {
			os.Exit(3)
		}
		fmt.Println("verify ok")
	}
}

type progressKey struct{ actor, track string }

type rebuilt struct {
	curve    leveling.Curve
	balances map[string]float64
	progress map[progressKey]leveling.State

	entries int
	applied int
	skipped int
}

// rebuild folds every successful ledger entry, in file order, into fresh
// state. Failed entries never reached the store and are skipped.
func rebuild(ctx context.Context, files []string, cat *catalogs.Catalog, curve leveling.Curve) (*rebuilt, error) {
	if curve == (leveling.Curve{}) {
		curve = leveling.DefaultCurve()
	}
	st := &rebuilt{
		curve:    curve,
		balances: map[string]float64{},
		progress: map[progressKey]leveling.State{},
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := ledger.ReadFile(path, func(e ledger.Entry) error {
			st.entries++
			if st.apply(cat, e) {
				st.applied++
			} else {
				st.skipped++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return st, nil
}

func (st *rebuilt) apply(cat *catalogs.Catalog, e ledger.Entry) bool {
	if e.Error != "" {
		return false
	}
	if e.TrackID == "" {
		if !(e.Income > 0) {
			return false
		}
		st.balances[e.ActorID] += e.Income
		return true
	}
	switch e.Outcome {
	case leveling.OutcomeSuccess.String(), leveling.OutcomeLevelUp.String():
	default:
		return false
	}
	def, ok := cat.Track(e.TrackID)
	if !ok {
		return false
	}
	k := progressKey{e.ActorID, e.TrackID}
	cur, ok := st.progress[k]
	if !ok {
		cur = leveling.State{Level: 1}
	}
	next, outcome := st.curve.AddExperience(cur, e.Experience, def.Leveling())
	switch outcome {
	case leveling.OutcomeSuccess, leveling.OutcomeLevelUp:
		st.progress[k] = next
		return true
	}
	return false
}

func (st *rebuilt) writeTo(ctx context.Context, dst *sqlstore.Store) error {
	for actor, bal := range st.balances {
		if !(bal > 0) {
			continue
		}
		if err := dst.Add(ctx, actor, bal); err != nil {
			return fmt.Errorf("balance %s: %w", actor, err)
		}
	}
	for k, s := range st.progress {
		p := store.ActorProgress{ActorID: k.actor, TrackID: k.track}.WithState(s)
		if err := dst.Upsert(ctx, p); err != nil {
			return fmt.Errorf("progress %s/%s: %w", k.actor, k.track, err)
		}
	}
	return nil
}

const tolerance = 1e-6

func (st *rebuilt) verify(ctx context.Context, live *sqlstore.Store) ([]string, error) {
	var out []string
	actors := make([]string, 0, len(st.balances))
	for a := range st.balances {
		actors = append(actors, a)
	}
	sort.Strings(actors)
	for _, a := range actors {
		got, err := live.Balance(ctx, a)
		if err != nil {
			return nil, err
		}
		// Balances can also be spent, so the ledger total is an upper bound.
		if got > st.balances[a]+tolerance {
			out = append(out, fmt.Sprintf("balance %s: store=%.4f ledger=%.4f", a, got, st.balances[a]))
		}
	}

	keys := make([]progressKey, 0, len(st.progress))
	for k := range st.progress {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].actor != keys[j].actor {
			return keys[i].actor < keys[j].actor
		}
		return keys[i].track < keys[j].track
	})
	for _, k := range keys {
		want := st.progress[k]
		p, err := live.Get(ctx, k.actor, k.track)
		if errors.Is(err, store.ErrNotFound) {
			out = append(out, fmt.Sprintf("progress %s/%s: missing in store (ledger level=%d)", k.actor, k.track, want.Level))
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Level != want.Level || math.Abs(p.Experience-want.Experience) > tolerance {
			out = append(out, fmt.Sprintf("progress %s/%s: store=L%d/%.2f ledger=L%d/%.2f", k.actor, k.track, p.Level, p.Experience, want.Level, want.Experience))
		}
	}
	return out, nil
}
