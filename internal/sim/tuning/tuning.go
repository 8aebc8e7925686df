// Package tuning loads economy.yaml, the runtime knobs of the pipeline.
package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"jobeconomy.ai/internal/sim/admission"
	"jobeconomy.ai/internal/sim/dedup"
	"jobeconomy.ai/internal/sim/leveling"
)

// EnvPrefix namespaces every environment override, e.g. JOBECON_QUEUE_WORKER_THREADS.
const EnvPrefix = "JOBECON_"

type Tuning struct {
	Engine    Engine    `yaml:"engine" envPrefix:"ENGINE_"`
	Admission Admission `yaml:"admission" envPrefix:"ADMISSION_"`
	Dedup     Dedup     `yaml:"dedup" envPrefix:"DEDUP_"`
	Queue     Queue     `yaml:"queue" envPrefix:"QUEUE_"`
	Leveling  Leveling  `yaml:"leveling" envPrefix:"LEVELING_"`
}

type Engine struct {
	TickRateHz int `yaml:"tick_rate_hz" env:"TICK_RATE_HZ"`
	InboxSize  int `yaml:"inbox_size" env:"INBOX_SIZE"`
	// MaxTracks caps the tracks one actor may hold; 0 means no cap.
	MaxTracks int `yaml:"max_tracks" env:"MAX_TRACKS"`
}

type Admission struct {
	Enabled              bool     `yaml:"enabled" env:"ENABLED"`
	ExcludedZones        []string `yaml:"excluded_zones" env:"EXCLUDED_ZONES" envSeparator:","`
	ExcludedModes        []string `yaml:"excluded_modes" env:"EXCLUDED_MODES" envSeparator:","`
	ExemptActionKinds    []string `yaml:"exempt_action_kinds" env:"EXEMPT_ACTION_KINDS" envSeparator:","`
	RequireExplicitGrant bool     `yaml:"require_explicit_grant" env:"REQUIRE_EXPLICIT_GRANT"`
	CheckKindPermissions bool     `yaml:"check_kind_permissions" env:"CHECK_KIND_PERMISSIONS"`
	BasePermission       string   `yaml:"base_permission" env:"BASE_PERMISSION"`
	KindPermissionPrefix string   `yaml:"kind_permission_prefix" env:"KIND_PERMISSION_PREFIX"`

	Permissions PermissionTable `yaml:"permissions"`
}

// PermissionTable maps actor ids (or "*") to permission nodes.
type PermissionTable struct {
	Granted map[string][]string `yaml:"granted"`
	Denied  map[string][]string `yaml:"denied"`
}

type Dedup struct {
	DefaultCooldownMs int            `yaml:"default_cooldown_ms" env:"DEFAULT_COOLDOWN_MS"`
	CooldownMs        map[string]int `yaml:"cooldown_ms" env:"COOLDOWN_MS"`
	ExpiryMs          int            `yaml:"expiry_ms" env:"EXPIRY_MS"`
	SweepIntervalMs   int            `yaml:"sweep_interval_ms" env:"SWEEP_INTERVAL_MS"`
}

type Queue struct {
	WorkerThreads     int `yaml:"worker_threads" env:"WORKER_THREADS"`
	BatchIntervalMs   int `yaml:"batch_interval_ms" env:"BATCH_INTERVAL_MS"`
	MaxBatchSize      int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms" env:"SHUTDOWN_TIMEOUT_MS"`
}

type Leveling struct {
	Curve leveling.Curve `yaml:"curve"`
}

// Load reads defaults, then the yaml file (if any), then JOBECON_* environment
// overrides, and returns the normalized, validated result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("economy.yaml: %w", err)
		}
	}
	if err := env.ParseWithOptions(&t, env.Options{Prefix: EnvPrefix}); err != nil {
		return t, fmt.Errorf("parse env: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("economy.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		Engine: Engine{
			TickRateHz: 20,
			InboxSize:  4096,
		},
		Admission: Admission{
			Enabled:              true,
			ExemptActionKinds:    []string{"track-join", "track-leave"},
			BasePermission:       admission.DefaultBasePermission,
			KindPermissionPrefix: admission.DefaultKindPermissionPrefix,
		},
		Dedup: Dedup{
			DefaultCooldownMs: 100,
			ExpiryMs:          int(dedup.DefaultExpiry / time.Millisecond),
			SweepIntervalMs:   int(dedup.DefaultSweepInterval / time.Millisecond),
		},
		Queue: Queue{
			WorkerThreads:     4,
			BatchIntervalMs:   50,
			MaxBatchSize:      64,
			ShutdownTimeoutMs: 5000,
		},
		Leveling: Leveling{Curve: leveling.DefaultCurve()},
	}
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if t.Engine.TickRateHz <= 0 {
		t.Engine.TickRateHz = 20
	}
	if t.Engine.InboxSize <= 0 {
		t.Engine.InboxSize = 4096
	}
	if t.Admission.BasePermission == "" {
		t.Admission.BasePermission = admission.DefaultBasePermission
	}
	if t.Admission.KindPermissionPrefix == "" {
		t.Admission.KindPermissionPrefix = admission.DefaultKindPermissionPrefix
	}
	for i, m := range t.Admission.ExcludedModes {
		t.Admission.ExcludedModes[i] = strings.ToLower(strings.TrimSpace(m))
	}
	if t.Dedup.ExpiryMs <= 0 {
		t.Dedup.ExpiryMs = int(dedup.DefaultExpiry / time.Millisecond)
	}
	if t.Dedup.SweepIntervalMs <= 0 {
		t.Dedup.SweepIntervalMs = int(dedup.DefaultSweepInterval / time.Millisecond)
	}
	if t.Queue.WorkerThreads <= 0 {
		t.Queue.WorkerThreads = 4
	}
	if t.Queue.BatchIntervalMs <= 0 {
		t.Queue.BatchIntervalMs = 50
	}
	if t.Queue.MaxBatchSize <= 0 {
		t.Queue.MaxBatchSize = 64
	}
	if t.Queue.ShutdownTimeoutMs <= 0 {
		t.Queue.ShutdownTimeoutMs = 5000
	}
	if t.Leveling.Curve.Base == 0 && t.Leveling.Curve.Exponent == 0 {
		t.Leveling.Curve = leveling.DefaultCurve()
	}
}

func (t Tuning) Validate() error {
	if t.Engine.TickRateHz > 1000 {
		return fmt.Errorf("engine.tick_rate_hz must be <= 1000")
	}
	if t.Engine.MaxTracks < 0 {
		return fmt.Errorf("engine.max_tracks must be >= 0")
	}
	if t.Dedup.DefaultCooldownMs < 0 {
		return fmt.Errorf("dedup.default_cooldown_ms must be >= 0")
	}
	for kind, ms := range t.Dedup.CooldownMs {
		if strings.TrimSpace(kind) == "" {
			return fmt.Errorf("dedup.cooldown_ms has empty action kind")
		}
		if ms < 0 {
			return fmt.Errorf("dedup.cooldown_ms[%s] must be >= 0", kind)
		}
	}
	if t.Queue.WorkerThreads > 256 {
		return fmt.Errorf("queue.worker_threads must be <= 256")
	}
	if err := t.Leveling.Curve.Validate(); err != nil {
		return fmt.Errorf("leveling.curve: %w", err)
	}
	return nil
}

// GateConfig maps the admission section onto the gate's rule set.
func (t Tuning) GateConfig() admission.Config {
	a := t.Admission
	return admission.Config{
		Enabled:              a.Enabled,
		ExcludedZones:        a.ExcludedZones,
		ExcludedModes:        a.ExcludedModes,
		ExemptActionKinds:    a.ExemptActionKinds,
		RequireExplicitGrant: a.RequireExplicitGrant,
		CheckKindPermissions: a.CheckKindPermissions,
		BasePermission:       a.BasePermission,
		KindPermissionPrefix: a.KindPermissionPrefix,
		Permissions: admission.StaticPermissions{
			Granted: a.Permissions.Granted,
			Denied:  a.Permissions.Denied,
		},
	}
}

func (t Tuning) Cooldowns() dedup.Cooldowns {
	return dedup.CooldownsFromMillis(t.Dedup.DefaultCooldownMs, t.Dedup.CooldownMs)
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.Engine.TickRateHz)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (d Dedup) Expiry() time.Duration        { return ms(d.ExpiryMs) }
func (d Dedup) SweepInterval() time.Duration { return ms(d.SweepIntervalMs) }

func (q Queue) BatchInterval() time.Duration   { return ms(q.BatchIntervalMs) }
func (q Queue) ShutdownTimeout() time.Duration { return ms(q.ShutdownTimeoutMs) }
