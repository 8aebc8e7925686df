package main

import (
	"testing"
	"time"

	ledger "jobeconomy.ai/internal/persistence/log"
	"jobeconomy.ai/internal/persistence/store"
)

func writeLedger(t *testing.T, entries []ledger.Entry) []string {
	t.Helper()
	dir := t.TempDir()
	w := ledger.NewWriter(dir, "rewards")
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := ledger.Files(dir)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected ledger files")
	}
	return files
}

func TestLedgerSummary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	files := writeLedger(t, []ledger.Entry{
		{Time: base, ActorID: "alice", Kind: "break", Income: 2, Outcome: "SUCCESS"},
		{Time: base, ActorID: "alice", Kind: "break", TrackID: "miner", Experience: 8, Level: 2, Outcome: "LEVEL_UP"},
		{Time: base.Add(time.Minute), ActorID: "bob", Kind: "kill", Income: 3, Outcome: "SUCCESS"},
		{Time: base.Add(time.Minute), ActorID: "bob", Kind: "kill", TrackID: "hunter", Experience: 10, Outcome: "DATABASE_ERROR", Error: "boom"},
	})

	sum, err := summarize(files, ledgerFilter{})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Entries != 4 || sum.Errors != 1 {
		t.Fatalf("counts: %+v", sum)
	}
	if sum.Income != 5 || sum.Experience != 8 {
		t.Fatalf("totals: income=%v xp=%v", sum.Income, sum.Experience)
	}
	if sum.ByOutcome["SUCCESS"] != 2 || sum.ByOutcome["LEVEL_UP"] != 1 {
		t.Fatalf("outcomes: %v", sum.ByOutcome)
	}
	if len(sum.ByActor) != 2 || sum.ByActor[0].ActorID != "bob" {
		t.Fatalf("by actor: %+v", sum.ByActor)
	}

	sum, err = summarize(files, ledgerFilter{Actor: "alice", Outcome: "level_up"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Entries != 1 || sum.Experience != 8 {
		t.Fatalf("filtered: %+v", sum)
	}
}

func TestScanLedgerLimitAndTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var entries []ledger.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, ledger.Entry{Time: base.Add(time.Duration(i) * time.Minute), ActorID: "alice", Kind: "place", Income: 1, Outcome: "SUCCESS"})
	}
	files := writeLedger(t, entries)

	var seen []time.Time
	n, err := scanLedger(files, ledgerFilter{}, 2, func(e ledger.Entry) { seen = append(seen, e.Time) })
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 || len(seen) != 2 || !seen[0].Equal(base) {
		t.Fatalf("limit: n=%d seen=%v", n, seen)
	}

	n, err = scanLedger(files, ledgerFilter{Since: base.Add(2 * time.Minute), Until: base.Add(3 * time.Minute)}, 0, func(ledger.Entry) {})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Fatalf("window: got %d want 2", n)
	}
}

func TestParseTime(t *testing.T) {
	if ts, err := parseTime(""); err != nil || !ts.IsZero() {
		t.Fatalf("empty: %v %v", ts, err)
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
	ts, err := parseTime("2026-03-01T12:00:00Z")
	if err != nil || ts.Hour() != 12 {
		t.Fatalf("rfc3339: %v %v", ts, err)
	}
}

func TestMarkCurrent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := markCurrent([]store.ActorProgress{
		{ActorID: "alice", TrackID: "miner", UpdatedAt: t0},
		{ActorID: "alice", TrackID: "builder", UpdatedAt: t0.Add(time.Hour)},
		{ActorID: "bob", TrackID: "woodcutter", UpdatedAt: t0},
		{ActorID: "bob", TrackID: "hunter", UpdatedAt: t0},
	})
	current := map[string]string{}
	for _, r := range rows {
		if r.Current {
			if prev, ok := current[r.ActorID]; ok {
				t.Fatalf("%s has two current tracks: %s and %s", r.ActorID, prev, r.TrackID)
			}
			current[r.ActorID] = r.TrackID
		}
	}
	if current["alice"] != "builder" || current["bob"] != "hunter" {
		t.Fatalf("current: %v", current)
	}
}
