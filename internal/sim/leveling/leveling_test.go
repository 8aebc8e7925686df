package leveling

import "testing"

func TestCurveRequired_StrictlyIncreasing(t *testing.T) {
	c := DefaultCurve()
	if got := c.Required(1); got != 0 {
		t.Fatalf("Required(1)=%v want 0", got)
	}
	if got := c.Required(2); got != 100 {
		t.Fatalf("Required(2)=%v want 100", got)
	}
	for l := 1; l < 200; l++ {
		if c.Required(l+1) <= c.Required(l) {
			t.Fatalf("Required(%d)=%v not > Required(%d)=%v", l+1, c.Required(l+1), l, c.Required(l))
		}
	}

	flat := Curve{Base: 3, Exponent: 0.5}
	for l := 1; l < 50; l++ {
		if flat.Required(l+1) <= flat.Required(l) {
			t.Fatalf("sub-linear curve not increasing at %d", l)
		}
	}
}

func TestCurveValidate(t *testing.T) {
	if err := DefaultCurve().Validate(); err != nil {
		t.Fatalf("default curve invalid: %v", err)
	}
	if err := (Curve{Base: 0, Exponent: 2}).Validate(); err == nil {
		t.Fatalf("expected zero base to be rejected")
	}
	if err := (Curve{Base: 10, Exponent: -1}).Validate(); err == nil {
		t.Fatalf("expected negative exponent to be rejected")
	}
}

func TestAddExperience_InvalidAmountLeavesStateUnchanged(t *testing.T) {
	c := DefaultCurve()
	cur := State{Level: 3, Experience: 412.5}
	for _, d := range []float64{0, -1, -1000} {
		got, out := c.AddExperience(cur, d, Track{MaxLevel: 10})
		if out != OutcomeInvalidAmount {
			t.Fatalf("delta=%v outcome=%v want INVALID_AMOUNT", d, out)
		}
		if got != cur {
			t.Fatalf("delta=%v state changed: %+v -> %+v", d, cur, got)
		}
	}
}

func TestAddExperience_SingleThreshold(t *testing.T) {
	c := DefaultCurve()
	got, out := c.AddExperience(State{Level: 1, Experience: 0}, 150, Track{MaxLevel: 10})
	if out != OutcomeLevelUp {
		t.Fatalf("outcome=%v want LEVEL_UP", out)
	}
	if got.Level != 2 || got.Experience != 150 {
		t.Fatalf("state=%+v want level=2 xp=150", got)
	}
}

func TestAddExperience_NoThreshold(t *testing.T) {
	c := DefaultCurve()
	got, out := c.AddExperience(State{Level: 2, Experience: 150}, 10, Track{MaxLevel: 10})
	if out != OutcomeSuccess {
		t.Fatalf("outcome=%v want SUCCESS", out)
	}
	if got.Level != 2 || got.Experience != 160 {
		t.Fatalf("state=%+v", got)
	}
}

func TestAddExperience_CrossesSeveralLevelsInOneCall(t *testing.T) {
	c := DefaultCurve()
	// Required(5) = 1600, Required(6) = 2500.
	got, out := c.AddExperience(State{Level: 1, Experience: 0}, 2000, Track{MaxLevel: 10})
	if out != OutcomeLevelUp {
		t.Fatalf("outcome=%v want LEVEL_UP", out)
	}
	if got.Level != 5 {
		t.Fatalf("level=%d want 5", got.Level)
	}
}

func TestAddExperience_SaturatesAtMaxLevel(t *testing.T) {
	c := DefaultCurve()
	got, out := c.AddExperience(State{Level: 4, Experience: 950}, 1e9, Track{MaxLevel: 10})
	if out != OutcomeLevelUp {
		t.Fatalf("outcome=%v want LEVEL_UP", out)
	}
	if got.Level != 10 || got.Experience != c.Required(10) {
		t.Fatalf("state=%+v want level=10 xp=%v", got, c.Required(10))
	}

	again, out := c.AddExperience(got, 5, Track{MaxLevel: 10})
	if out != OutcomeMaxLevelReached {
		t.Fatalf("outcome=%v want MAX_LEVEL_REACHED", out)
	}
	if again != got {
		t.Fatalf("state changed at cap: %+v -> %+v", got, again)
	}
}

func TestAddExperience_AppliesMultiplier(t *testing.T) {
	c := DefaultCurve()
	got, out := c.AddExperience(State{Level: 1}, 60, Track{MaxLevel: 10, Multiplier: 2})
	if out != OutcomeLevelUp || got.Experience != 120 || got.Level != 2 {
		t.Fatalf("state=%+v outcome=%v", got, out)
	}
	got, _ = c.AddExperience(State{Level: 1}, 60, Track{MaxLevel: 10, Multiplier: 0})
	if got.Experience != 60 {
		t.Fatalf("zero multiplier should behave as 1, got xp=%v", got.Experience)
	}
}

func TestAddExperience_NeverLowersLevel(t *testing.T) {
	c := DefaultCurve()
	// Level set by an admin override above what the experience supports.
	got, out := c.AddExperience(State{Level: 6, Experience: 10}, 5, Track{MaxLevel: 10})
	if got.Level != 6 {
		t.Fatalf("level dropped to %d", got.Level)
	}
	if out != OutcomeSuccess {
		t.Fatalf("outcome=%v want SUCCESS", out)
	}
}

func TestExperienceToNextLevelAndProgress(t *testing.T) {
	c := DefaultCurve()
	s := State{Level: 2, Experience: 250}
	if got := c.ExperienceToNextLevel(s, 10); got != 150 {
		t.Fatalf("to next=%v want 150", got)
	}
	if got := c.ProgressFraction(s, 10); got != 0.5 {
		t.Fatalf("progress=%v want 0.5", got)
	}
	capped := State{Level: 10, Experience: c.Required(10)}
	if got := c.ExperienceToNextLevel(capped, 10); got != 0 {
		t.Fatalf("to next at cap=%v want 0", got)
	}
	if got := c.ProgressFraction(capped, 10); got != 1 {
		t.Fatalf("progress at cap=%v want 1", got)
	}
	if got := c.ProgressFraction(State{Level: 1, Experience: -5}, 10); got != 0 {
		t.Fatalf("negative progress not clamped: %v", got)
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeLevelUp.String() != "LEVEL_UP" || OutcomeDatabaseError.String() != "DATABASE_ERROR" {
		t.Fatalf("unexpected outcome names")
	}
}
