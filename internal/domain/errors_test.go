package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrInvalidArgument", ErrInvalidArgument, "invalid argument"},
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrConflict", ErrConflict, "conflict"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
		{"ErrStore", ErrStore, "store failure"},
		{"ErrDecode", ErrDecode, "decode failure"},
		{"ErrRanker", ErrRanker, "ranker failure"},
		{"ErrInternal", ErrInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{"ErrNotFound is ErrNotFound", ErrNotFound, ErrNotFound, true},
		{"ErrConflict is ErrConflict", ErrConflict, ErrConflict, true},
		{"ErrStore is ErrStore", ErrStore, ErrStore, true},
		{"ErrRanker is ErrRanker", ErrRanker, ErrRanker, true},
		{"ErrInvalidArgument is not ErrNotFound", ErrInvalidArgument, ErrNotFound, false},
		{"ErrDecode is not ErrRanker", ErrDecode, ErrRanker, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.expected)
			}
		})
	}
}

func TestErrorWrappingPreservesSentinel(t *testing.T) {
	wrapped := fmt.Errorf("op=source.poll: %w", ErrDecode)
	if !errors.Is(wrapped, ErrDecode) {
		t.Errorf("Expected wrapped error to match ErrDecode")
	}
	double := fmt.Errorf("op=pipeline.iterate: %w", wrapped)
	if !errors.Is(double, ErrDecode) {
		t.Errorf("Expected doubly wrapped error to match ErrDecode")
	}
}
