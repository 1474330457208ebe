package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	l := Loader{Lookup: func(string) (string, bool) { return "", false }}
	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DriftHardResetMs != DefaultDriftHardResetMs {
		t.Fatalf("expected default hard reset threshold, got %d", cfg.DriftHardResetMs)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	env := map[string]string{"AVSYNC_DRIFT_HARD_RESET_MS": "2500"}
	l := Loader{Lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}
	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DriftHardResetMs != 2500 {
		t.Fatalf("expected overridden threshold 2500, got %d", cfg.DriftHardResetMs)
	}
}

func TestLoadRejectsBadThresholds(t *testing.T) {
	env := map[string]string{"AVSYNC_DRIFT_HARD_RESET_MS": "10"}
	l := Loader{Lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}
	if _, err := l.Load(""); err == nil {
		t.Fatalf("expected validation error for non-increasing drift thresholds")
	}
}
