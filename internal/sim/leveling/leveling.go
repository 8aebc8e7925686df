// Package leveling maps experience deltas onto level transitions.
//
// Everything here is pure: callers pass value copies of a track's
// (level, experience) pair and get a new pair plus an Outcome back.
package leveling

import (
	"fmt"
	"math"
	"sort"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeLevelUp
	OutcomeMaxLevelReached
	OutcomeInvalidAmount
	// OutcomeDatabaseError is never produced by the curve itself; handlers use
	// it when the progress record backing a track is missing.
	OutcomeDatabaseError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeLevelUp:
		return "LEVEL_UP"
	case OutcomeMaxLevelReached:
		return "MAX_LEVEL_REACHED"
	case OutcomeInvalidAmount:
		return "INVALID_AMOUNT"
	case OutcomeDatabaseError:
		return "DATABASE_ERROR"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// State is one actor's standing on one track.
type State struct {
	Level      int
	Experience float64
}

// Track carries the per-track limits the curve needs.
type Track struct {
	MaxLevel int
	// Multiplier scales every positive delta; values <= 0 mean 1.
	Multiplier float64
}

// Curve is the single authoritative level threshold function:
//
//	Required(L) = Base * (L-1)^Exponent
//
// Level 1 is the zero point.
type Curve struct {
	Base     float64 `yaml:"base" json:"base"`
	Exponent float64 `yaml:"exponent" json:"exponent"`
}

func DefaultCurve() Curve {
	return Curve{Base: 100, Exponent: 2}
}

func (c Curve) Validate() error {
	if !(c.Base > 0) || math.IsInf(c.Base, 0) {
		return fmt.Errorf("curve base must be > 0")
	}
	if !(c.Exponent > 0) || math.IsInf(c.Exponent, 0) {
		return fmt.Errorf("curve exponent must be > 0")
	}
	return nil
}

// Required returns the cumulative experience needed to hold level.
func (c Curve) Required(level int) float64 {
	if level <= 1 {
		return 0
	}
	return c.Base * math.Pow(float64(level-1), c.Exponent)
}

// LevelFor returns the largest L <= maxLevel with Required(L) <= xp.
func (c Curve) LevelFor(xp float64, maxLevel int) int {
	if maxLevel < 1 {
		maxLevel = 1
	}
	// sort.Search finds the first level whose threshold exceeds xp.
	n := sort.Search(maxLevel, func(i int) bool {
		return c.Required(i+1) > xp
	})
	if n < 1 {
		return 1
	}
	return n
}

// AddExperience applies delta to cur on track t.
//
// Non-positive deltas and actors already at the cap leave the state untouched.
// Excess experience past the cap is discarded: the result is saturated at
// (MaxLevel, Required(MaxLevel)).
func (c Curve) AddExperience(cur State, delta float64, t Track) (State, Outcome) {
	if !(delta > 0) || math.IsInf(delta, 0) {
		return cur, OutcomeInvalidAmount
	}
	maxLevel := t.MaxLevel
	if maxLevel < 1 {
		maxLevel = 1
	}
	if cur.Level >= maxLevel {
		return cur, OutcomeMaxLevelReached
	}

	next := normalize(cur)
	mult := t.Multiplier
	if !(mult > 0) {
		mult = 1
	}
	next.Experience += delta * mult

	capXP := c.Required(maxLevel)
	if next.Experience >= capXP {
		next.Level = maxLevel
		next.Experience = capXP
	} else if lvl := c.LevelFor(next.Experience, maxLevel); lvl > next.Level {
		next.Level = lvl
	}

	if next.Level > cur.Level {
		return next, OutcomeLevelUp
	}
	return next, OutcomeSuccess
}

// ExperienceToNextLevel is zero at the cap.
func (c Curve) ExperienceToNextLevel(s State, maxLevel int) float64 {
	if s.Level >= maxLevel {
		return 0
	}
	lvl := s.Level
	if lvl < 1 {
		lvl = 1
	}
	rem := c.Required(lvl+1) - s.Experience
	if rem < 0 {
		return 0
	}
	return rem
}

// ProgressFraction reports how far s is between its level threshold and the
// next one, in [0,1]. It is 1 at the cap.
func (c Curve) ProgressFraction(s State, maxLevel int) float64 {
	if s.Level >= maxLevel {
		return 1
	}
	lvl := s.Level
	if lvl < 1 {
		lvl = 1
	}
	lo := c.Required(lvl)
	hi := c.Required(lvl + 1)
	if hi <= lo {
		return 1
	}
	f := (s.Experience - lo) / (hi - lo)
	switch {
	case f < 0 || math.IsNaN(f):
		return 0
	case f > 1:
		return 1
	}
	return f
}

func normalize(s State) State {
	if s.Level < 1 {
		s.Level = 1
	}
	if !(s.Experience >= 0) {
		s.Experience = 0
	}
	return s
}
