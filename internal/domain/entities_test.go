package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestQueueConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant Queue
		expected string
	}{
		{"QueuePending", QueuePending, "pending"},
		{"QueueScored", QueueScored, "scored"},
		{"QueueError", QueueError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, string(tt.constant))
			}
		})
	}
}

func TestSourceNextCheck(t *testing.T) {
	checked := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := Source{ID: 1, URL: "https://example.com/rss", Interval: time.Hour, LastChecked: &checked}

	want := checked.Add(time.Hour)
	if got := src.NextCheck(); !got.Equal(want) {
		t.Errorf("Expected NextCheck to be %v, got %v", want, got)
	}

	src.LastChecked = nil
	if got := src.NextCheck(); !got.IsZero() {
		t.Errorf("Expected zero NextCheck for never-checked source, got %v", got)
	}
}

func TestItemRankOptional(t *testing.T) {
	now := time.Now()
	rank := 9.5
	item := Item{
		ID:           7,
		SourceID:     1,
		GUID:         "https://example.com/a",
		Payload:      "<entry><title>A headline</title></entry>",
		DiscoveredAt: now,
		Rank:         &rank,
		RankedAt:     &now,
	}

	if item.Rank == nil || *item.Rank != 9.5 {
		t.Errorf("Expected Rank to be 9.5, got %v", item.Rank)
	}
	if item.RankedAt == nil || !item.RankedAt.Equal(now) {
		t.Errorf("Expected RankedAt to be %v, got %v", now, item.RankedAt)
	}

	item.Rank = nil
	item.RankedAt = nil
	if item.Rank != nil || item.RankedAt != nil {
		t.Errorf("Expected unranked item to carry nil rank fields")
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrRateLimited, true},
		{"wrapped sentinel", fmt.Errorf("op=chat.send: %w", ErrRateLimited), true},
		{"rate limit text", errors.New("rate limit hit"), true},
		{"mixed case", errors.New("Rate Limit exceeded"), true},
		{"too many", errors.New("HTTP 429: Too Many Requests"), true},
		{"generic failure", errors.New("connection reset by peer"), false},
		{"unrelated sentinel", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimited(tt.err); got != tt.want {
				t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidArgument, ErrNotFound, ErrConflict, ErrRateLimited,
		ErrStore, ErrDecode, ErrRanker, ErrInternal,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v unexpectedly matches %v", a, b)
			}
		}
	}
}

func TestStoreErrorWrapping(t *testing.T) {
	err := fmt.Errorf("op=item.upsert: %w: disk full", ErrStore)
	if !errors.Is(err, ErrStore) {
		t.Errorf("Expected wrapped error to match ErrStore")
	}
	if errors.Is(err, ErrDecode) {
		t.Errorf("Did not expect wrapped store error to match ErrDecode")
	}
}
