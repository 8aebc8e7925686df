package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_Progress(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Unix(1000, 0)
	m.Now = func() time.Time { return base }

	if _, err := m.Get(ctx, "a1", "miner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Upsert(ctx, ActorProgress{ActorID: "a1", TrackID: "miner", Level: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.Upsert(ctx, ActorProgress{ActorID: "a1", TrackID: "hunter", Level: 3, Experience: 500}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := m.Get(ctx, "a1", "hunter")
	if err != nil || got.Level != 3 || !got.UpdatedAt.Equal(base) {
		t.Fatalf("get: %+v %v", got, err)
	}
	list, _ := m.ListByActor(ctx, "a1")
	if len(list) != 2 || list[0].TrackID != "hunter" {
		t.Fatalf("list: %+v", list)
	}
	_ = m.Delete(ctx, "a1", "hunter")
	list, _ = m.ListByActor(ctx, "a1")
	if len(list) != 1 {
		t.Fatalf("delete: %+v", list)
	}
}

func TestMemory_Balances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if b, _ := m.Balance(ctx, "a1"); b != 0 {
		t.Fatalf("new balance: %v", b)
	}
	if err := m.Add(ctx, "a1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero add: %v", err)
	}
	_ = m.Add(ctx, "a1", 10)
	if err := m.Subtract(ctx, "a1", 11); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw: %v", err)
	}
	if err := m.Subtract(ctx, "a1", 4); err != nil {
		t.Fatalf("subtract: %v", err)
	}
	if b, _ := m.Balance(ctx, "a1"); b != 6 {
		t.Fatalf("balance: %v", b)
	}
}

func TestCurrentTrack(t *testing.T) {
	t0 := time.Unix(100, 0)
	t1 := t0.Add(time.Second)
	recs := []ActorProgress{
		{TrackID: "miner", UpdatedAt: t0},
		{TrackID: "hunter", UpdatedAt: t1},
		{TrackID: "farmer", UpdatedAt: t1},
	}
	cur, ok := CurrentTrack(recs)
	if !ok || cur.TrackID != "farmer" {
		t.Fatalf("current: %+v", cur)
	}
	if _, ok := CurrentTrack(nil); ok {
		t.Fatalf("empty should be false")
	}
}
