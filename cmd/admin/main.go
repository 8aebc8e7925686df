package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ledger "jobeconomy.ai/internal/persistence/log"
)

var errStop = errors.New("stop")

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "balances":
			balancesCmd(os.Args[2:])
			return
		case "progress":
			progressCmd(os.Args[2:])
			return
		case "ledger":
			ledgerCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "dedup-clear":
			dedupClearCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the ledger files under the data directory.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := ledger.Files(filepath.Join(*dataDir, "ledger"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Println(filepath.Base(f))
	}
}

type ledgerFilter struct {
	Actor   string
	Kind    string
	Track   string
	Outcome string
	Since   time.Time
	Until   time.Time
}

func (f ledgerFilter) match(e ledger.Entry) bool {
	if f.Actor != "" && e.ActorID != f.Actor {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Track != "" && e.TrackID != f.Track {
		return false
	}
	if f.Outcome != "" && !strings.EqualFold(e.Outcome, f.Outcome) {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Time.After(f.Until) {
		return false
	}
	return true
}

type ledgerSummary struct {
	Entries    int            `json:"entries"`
	Income     float64        `json:"income"`
	Experience float64        `json:"experience"`
	Errors     int            `json:"errors"`
	ByOutcome  map[string]int `json:"by_outcome"`
	ByActor    []actorTotal   `json:"by_actor"`
}

type actorTotal struct {
	ActorID    string  `json:"actor_id"`
	Income     float64 `json:"income"`
	Experience float64 `json:"experience"`
}

// scanLedger applies fn to every matching entry across files, in file order.
// limit > 0 stops after that many matches.
func scanLedger(files []string, filter ledgerFilter, limit int, fn func(ledger.Entry)) (int, error) {
	n := 0
	for _, path := range files {
		err := ledger.ReadFile(path, func(e ledger.Entry) error {
			if !filter.match(e) {
				return nil
			}
			fn(e)
			n++
			if limit > 0 && n >= limit {
				return errStop
			}
			return nil
		})
		if errors.Is(err, errStop) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return n, nil
}

func summarize(files []string, filter ledgerFilter) (ledgerSummary, error) {
	sum := ledgerSummary{ByOutcome: map[string]int{}}
	actors := map[string]*actorTotal{}
	_, err := scanLedger(files, filter, 0, func(e ledger.Entry) {
		sum.Entries++
		sum.ByOutcome[e.Outcome]++
		if e.Error != "" {
			sum.Errors++
			return
		}
		sum.Income += e.Income
		sum.Experience += e.Experience
		a := actors[e.ActorID]
		if a == nil {
			a = &actorTotal{ActorID: e.ActorID}
			actors[e.ActorID] = a
		}
		a.Income += e.Income
		a.Experience += e.Experience
	})
	if err != nil {
		return sum, err
	}
	for _, a := range actors {
		sum.ByActor = append(sum.ByActor, *a)
	}
	sort.Slice(sum.ByActor, func(i, j int) bool {
		if sum.ByActor[i].Income != sum.ByActor[j].Income {
			return sum.ByActor[i].Income > sum.ByActor[j].Income
		}
		return sum.ByActor[i].ActorID < sum.ByActor[j].ActorID
	})
	return sum, nil
}

func ledgerCmd(args []string) {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dir := fs.String("dir", "", "ledger directory (optional; defaults to <data>/ledger)")
	actor := fs.String("actor", "", "actor id filter")
	kind := fs.String("kind", "", "action kind filter")
	track := fs.String("track", "", "track id filter")
	outcome := fs.String("outcome", "", "outcome filter (e.g. LEVEL_UP, DATABASE_ERROR)")
	since := fs.String("since", "", "RFC3339 lower bound (inclusive)")
	until := fs.String("until", "", "RFC3339 upper bound (inclusive)")
	limit := fs.Int("limit", 0, "max entries to print (0 = all)")
	summary := fs.Bool("summary", false, "print totals instead of entries")
	_ = fs.Parse(args)

	filter := ledgerFilter{
		Actor:   strings.TrimSpace(*actor),
		Kind:    strings.TrimSpace(*kind),
		Track:   strings.TrimSpace(*track),
		Outcome: strings.TrimSpace(*outcome),
	}
	var err error
	if filter.Since, err = parseTime(*since); err != nil {
		fmt.Fprintln(os.Stderr, "bad -since:", err)
		os.Exit(2)
	}
	if filter.Until, err = parseTime(*until); err != nil {
		fmt.Fprintln(os.Stderr, "bad -until:", err)
		os.Exit(2)
	}

	path := strings.TrimSpace(*dir)
	if path == "" {
		path = filepath.Join(*dataDir, "ledger")
	}
	files, err := ledger.Files(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}

	if *summary {
		sum, err := summarize(files, filter)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ledger:", err)
			os.Exit(1)
		}
		printJSON(sum)
		return
	}
	if _, err := scanLedger(files, filter, *limit, func(e ledger.Entry) { printJSON(e) }); err != nil {
		fmt.Fprintln(os.Stderr, "ledger:", err)
		os.Exit(1)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
