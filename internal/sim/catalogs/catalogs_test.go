package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
tracks:
  miner:
    max_level: 50
    rewards:
      break:
        stone: {income: 0.5, experience: 2}
        "*": {income: 0.1, experience: 1}
  hunter:
    name: Hunter
    max_level: 20
    xp_multiplier: 1.5
    rewards:
      kill:
        zombie: {income: 3, experience: 10}
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ids := c.TrackIDs(); len(ids) != 2 || ids[0] != "hunter" || ids[1] != "miner" {
		t.Fatalf("track ids: %v", ids)
	}
	miner, _ := c.Track("miner")
	if miner.Name != "miner" || miner.XPMultiplier != 1 {
		t.Fatalf("defaults not applied: %+v", miner)
	}
	if lt := miner.Leveling(); lt.MaxLevel != 50 || lt.Multiplier != 1 {
		t.Fatalf("leveling track: %+v", lt)
	}
	if c.Digest == "" {
		t.Fatalf("missing digest")
	}
}

func TestReward_TargetFallback(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r, ok := c.Reward("miner", "break", "stone"); !ok || r.Income != 0.5 {
		t.Fatalf("stone: %+v %v", r, ok)
	}
	if r, ok := c.Reward("miner", "break", "dirt"); !ok || r.Experience != 1 {
		t.Fatalf("wildcard: %+v %v", r, ok)
	}
	if _, ok := c.Reward("hunter", "kill", "cow"); ok {
		t.Fatalf("cow has no reward")
	}
	if _, ok := c.Reward("miner", "kill", "zombie"); ok {
		t.Fatalf("miner does not pay for kills")
	}
	if _, ok := c.Reward("nope", "break", "stone"); ok {
		t.Fatalf("unknown track")
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, body := range []string{
		"tracks:\n  miner:\n    max_level: 0\n",
		"tracks:\n  miner:\n    max_level: 5\n    xp_multiplier: -1\n",
		"tracks:\n  miner:\n    max_level: 5\n    rewards:\n      break:\n        stone: {income: -1}\n",
	} {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Tracks) != 2 {
		t.Fatalf("tracks: %d", len(c.Tracks))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
