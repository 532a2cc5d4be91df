package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fitz/tasksync/internal/engine"
)

// Tuning file names, checked in this order.
const (
	TuningTOML = "tasksync.toml"
	TuningYAML = "tasksync.yaml"
)

// TuningFile is the on-disk shape of the timing overrides. Durations use
// Go syntax ("500ms", "30s", "168h"). Unset fields keep the defaults.
type TuningFile struct {
	PersistDebounce   string `toml:"persist_debounce" yaml:"persist_debounce"`
	ReorderDebounce   string `toml:"reorder_debounce" yaml:"reorder_debounce"`
	ProbeInterval     string `toml:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout      string `toml:"probe_timeout" yaml:"probe_timeout"`
	FailureThreshold  int    `toml:"failure_threshold" yaml:"failure_threshold"`
	QueueBackoffBase  string `toml:"queue_backoff_base" yaml:"queue_backoff_base"`
	QueueBackoffMax   string `toml:"queue_backoff_max" yaml:"queue_backoff_max"`
	MaxRetries        int    `toml:"max_retries" yaml:"max_retries"`
	RealtimeBackoff   string `toml:"realtime_backoff_base" yaml:"realtime_backoff_base"`
	RealtimeMax       string `toml:"realtime_backoff_max" yaml:"realtime_backoff_max"`
	RealtimeAttempts  int    `toml:"realtime_attempts" yaml:"realtime_attempts"`
	RealtimeCooldown  string `toml:"realtime_cooldown" yaml:"realtime_cooldown"`
	ConnectTimeout    string `toml:"connect_timeout" yaml:"connect_timeout"`
	CleanupInterval   string `toml:"cleanup_interval" yaml:"cleanup_interval"`
	ConflictRetention string `toml:"conflict_retention" yaml:"conflict_retention"`
}

// LoadTuning reads tasksync.toml or tasksync.yaml from dir and applies it
// over engine.DefaultTuning. A missing file yields the defaults.
func LoadTuning(dir string) (engine.Tuning, error) {
	var file TuningFile

	tomlPath := filepath.Join(dir, TuningTOML)
	yamlPath := filepath.Join(dir, TuningYAML)
	switch {
	case exists(tomlPath):
		if _, err := toml.DecodeFile(tomlPath, &file); err != nil {
			return engine.Tuning{}, fmt.Errorf("failed to parse %s: %w", TuningTOML, err)
		}
	case exists(yamlPath):
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return engine.Tuning{}, fmt.Errorf("failed to read %s: %w", TuningYAML, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return engine.Tuning{}, fmt.Errorf("failed to parse %s: %w", TuningYAML, err)
		}
	default:
		return engine.DefaultTuning(), nil
	}
	return file.Apply(engine.DefaultTuning())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Apply overlays the set fields onto t.
func (f TuningFile) Apply(t engine.Tuning) (engine.Tuning, error) {
	var errs []error
	dur := func(name, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, value))
			return
		}
		*dst = d
	}

	dur("persist_debounce", f.PersistDebounce, &t.PersistDebounce)
	dur("reorder_debounce", f.ReorderDebounce, &t.ReorderDebounce)
	dur("probe_interval", f.ProbeInterval, &t.ProbeInterval)
	dur("probe_timeout", f.ProbeTimeout, &t.ProbeTimeout)
	dur("queue_backoff_base", f.QueueBackoffBase, &t.QueueBackoff.Base)
	dur("queue_backoff_max", f.QueueBackoffMax, &t.QueueBackoff.Max)
	dur("realtime_backoff_base", f.RealtimeBackoff, &t.RealtimeBackoff.Base)
	dur("realtime_backoff_max", f.RealtimeMax, &t.RealtimeBackoff.Max)
	dur("realtime_cooldown", f.RealtimeCooldown, &t.RealtimeCooldown)
	dur("connect_timeout", f.ConnectTimeout, &t.ConnectTimeout)
	dur("cleanup_interval", f.CleanupInterval, &t.CleanupInterval)
	dur("conflict_retention", f.ConflictRetention, &t.ConflictRetention)

	if f.FailureThreshold > 0 {
		t.FailureThreshold = f.FailureThreshold
	}
	if f.MaxRetries > 0 {
		t.MaxRetries = f.MaxRetries
	}
	if f.RealtimeAttempts > 0 {
		t.RealtimeAttempts = f.RealtimeAttempts
	}
	if t.QueueBackoff.Max < t.QueueBackoff.Base {
		errs = append(errs, fmt.Errorf("queue_backoff_max %s is below queue_backoff_base %s", t.QueueBackoff.Max, t.QueueBackoff.Base))
	}

	if err := errors.Join(errs...); err != nil {
		return engine.Tuning{}, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}
