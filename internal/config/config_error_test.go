package config

import "testing"

func Test_Load_ErrorOnBadDuration(t *testing.T) {
	t.Setenv("MIN_INTERVAL", "bad")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func Test_Load_ErrorOnInvertedBounds(t *testing.T) {
	t.Setenv("MIN_INTERVAL", "2h")
	t.Setenv("MAX_INTERVAL", "1h")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for inverted interval bounds")
	}
}

func Test_Load_ErrorOnDefaultOutsideBounds(t *testing.T) {
	t.Setenv("MIN_INTERVAL", "10m")
	t.Setenv("MAX_INTERVAL", "20m")
	t.Setenv("DEFAULT_INTERVAL", "1h")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for default interval outside bounds")
	}
}

func Test_Load_ErrorOnZeroAdjustStep(t *testing.T) {
	t.Setenv("ADJUST_STEP", "0s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero adjust step")
	}
}
