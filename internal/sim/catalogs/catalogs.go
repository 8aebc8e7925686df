// Package catalogs loads the reward catalogue and progression track
// definitions from rewards.yaml.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"jobeconomy.ai/internal/sim/leveling"
)

// AnyTarget matches every target of an action kind without a specific entry.
const AnyTarget = "*"

type Catalog struct {
	Tracks map[string]TrackDef
	Digest string
}

type TrackDef struct {
	ID           string                       `yaml:"-"`
	Name         string                       `yaml:"name"`
	MaxLevel     int                          `yaml:"max_level"`
	XPMultiplier float64                      `yaml:"xp_multiplier"`
	Rewards      map[string]map[string]Reward `yaml:"rewards"`
}

type Reward struct {
	Income     float64 `yaml:"income" json:"income"`
	Experience float64 `yaml:"experience" json:"experience"`
}

func (r Reward) IsZero() bool { return r.Income == 0 && r.Experience == 0 }

type file struct {
	Tracks map[string]TrackDef `yaml:"tracks"`
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("rewards.yaml: %w", err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	c := &Catalog{Tracks: make(map[string]TrackDef, len(f.Tracks)), Digest: sha256Hex(raw)}
	for id, def := range f.Tracks {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("empty track id")
		}
		def.ID = id
		if def.Name == "" {
			def.Name = id
		}
		if def.XPMultiplier == 0 {
			def.XPMultiplier = 1
		}
		if err := def.validate(); err != nil {
			return nil, err
		}
		c.Tracks[id] = def
	}
	return c, nil
}

func (d TrackDef) validate() error {
	if d.MaxLevel < 1 {
		return fmt.Errorf("track %s max_level must be >= 1", d.ID)
	}
	if !(d.XPMultiplier > 0) || math.IsInf(d.XPMultiplier, 0) {
		return fmt.Errorf("track %s xp_multiplier must be > 0", d.ID)
	}
	for kind, targets := range d.Rewards {
		for target, r := range targets {
			if !finiteNonNeg(r.Income) || !finiteNonNeg(r.Experience) {
				return fmt.Errorf("track %s reward %s/%s must be finite and >= 0", d.ID, kind, target)
			}
		}
	}
	return nil
}

func finiteNonNeg(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Catalog) Track(id string) (TrackDef, bool) {
	if c == nil {
		return TrackDef{}, false
	}
	d, ok := c.Tracks[id]
	return d, ok
}

// Leveling returns the track's parameters in the form the leveling engine takes.
func (d TrackDef) Leveling() leveling.Track {
	return leveling.Track{MaxLevel: d.MaxLevel, Multiplier: d.XPMultiplier}
}

// Reward looks up the reward a track pays for kind on target, falling back
// to the kind's AnyTarget entry.
func (c *Catalog) Reward(trackID, kind, target string) (Reward, bool) {
	d, ok := c.Track(trackID)
	if !ok {
		return Reward{}, false
	}
	targets, ok := d.Rewards[kind]
	if !ok {
		return Reward{}, false
	}
	if r, ok := targets[target]; ok && target != "" {
		return r, true
	}
	r, ok := targets[AnyTarget]
	return r, ok
}

func (c *Catalog) TrackIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Tracks))
	for id := range c.Tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
