package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jobeconomy.ai/internal/persistence/sqlstore"
	"jobeconomy.ai/internal/persistence/store"
)

type dbFlags struct {
	dataDir *string
	dbPath  *string
	dsn     *string
}

func addDBFlags(fs *flag.FlagSet) dbFlags {
	return dbFlags{
		dataDir: fs.String("data", "./data", "runtime data directory"),
		dbPath:  fs.String("db", "", "sqlite db path (optional; defaults to <data>/economy.sqlite)"),
		dsn:     fs.String("dsn", "", "postgres dsn (optional; overrides -db)"),
	}
}

func (f dbFlags) open(ctx context.Context) (*sqlstore.Store, error) {
	if dsn := strings.TrimSpace(*f.dsn); dsn != "" {
		return sqlstore.OpenPostgres(ctx, dsn)
	}
	path := strings.TrimSpace(*f.dbPath)
	if path == "" {
		path = filepath.Join(*f.dataDir, "economy.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return sqlstore.OpenSQLite(path)
}

func balancesCmd(args []string) {
	fs := flag.NewFlagSet("balances", flag.ExitOnError)
	dbf := addDBFlags(fs)
	actor := fs.String("actor", "", "single actor id (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := dbf.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()

	if id := strings.TrimSpace(*actor); id != "" {
		bal, err := s.Balance(ctx, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "balance:", err)
			os.Exit(1)
		}
		printJSON(map[string]any{"actor_id": id, "balance": bal})
		return
	}
	if *limit <= 0 {
		*limit = 20
	}
	rows, err := s.TopBalances(ctx, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type progressRow struct {
	store.ActorProgress
	Current bool `json:"current,omitempty"`
}

// markCurrent flags each actor's current track.
func markCurrent(records []store.ActorProgress) []progressRow {
	byActor := map[string][]store.ActorProgress{}
	for _, r := range records {
		byActor[r.ActorID] = append(byActor[r.ActorID], r)
	}
	current := map[string]string{}
	for actor, recs := range byActor {
		if cur, ok := store.CurrentTrack(recs); ok {
			current[actor] = cur.TrackID
		}
	}
	out := make([]progressRow, 0, len(records))
	for _, r := range records {
		out = append(out, progressRow{ActorProgress: r, Current: current[r.ActorID] == r.TrackID})
	}
	return out
}

func progressCmd(args []string) {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	dbf := addDBFlags(fs)
	actor := fs.String("actor", "", "actor id filter (optional)")
	track := fs.String("track", "", "track id filter (optional)")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := dbf.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()

	var records []store.ActorProgress
	if id := strings.TrimSpace(*actor); id != "" {
		records, err = s.ListByActor(ctx, id)
	} else {
		records, err = s.ListProgress(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	trackID := strings.TrimSpace(*track)
	for _, r := range markCurrent(records) {
		if trackID != "" && r.TrackID != trackID {
			continue
		}
		printJSON(r)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
