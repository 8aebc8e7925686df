package dedup

import "time"

// Cooldowns is the per-kind suppression window table. Kinds without an
// entry use Default; a zero window disables suppression for that kind.
type Cooldowns struct {
	Default time.Duration
	ByKind  map[string]time.Duration
}

func (c Cooldowns) For(kind string) time.Duration {
	if d, ok := c.ByKind[kind]; ok {
		return d
	}
	return c.Default
}

// CooldownsFromMillis builds a table from the millisecond form used in config.
func CooldownsFromMillis(defaultMS int, byKind map[string]int) Cooldowns {
	out := Cooldowns{
		Default: time.Duration(defaultMS) * time.Millisecond,
		ByKind:  make(map[string]time.Duration, len(byKind)),
	}
	for k, ms := range byKind {
		out.ByKind[k] = time.Duration(ms) * time.Millisecond
	}
	return out
}
