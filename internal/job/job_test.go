package job

import (
	"testing"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusPending, false},
		{StatusActive, false},
		{StatusPaused, false},
		{StatusCompleted, true},
		{StatusError, true},
		{StatusCanceled, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.expected {
			t.Errorf("IsTerminal() for %s = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     Status
		to       Status
		expected bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusCanceled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusError, false},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusError, true},
		{StatusActive, StatusCanceled, true},
		{StatusActive, StatusPending, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusCanceled, false},
		{StatusError, StatusPending, false},
		{StatusCanceled, StatusActive, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.expected {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.expected)
		}
	}
}

func TestComputeID_Stable(t *testing.T) {
	a := ComputeID("https://example.com/watch?v=abc", "best")
	b := ComputeID("https://example.com/watch?v=abc", "best")
	if a != b {
		t.Errorf("same URL and format produced different IDs: %s vs %s", a, b)
	}
}

func TestComputeID_FormatMatters(t *testing.T) {
	a := ComputeID("https://example.com/watch?v=abc", "best")
	b := ComputeID("https://example.com/watch?v=abc", "720p")
	if a == b {
		t.Error("different formats should produce different IDs")
	}
}

func TestNew(t *testing.T) {
	j := New("https://example.com/watch?v=abc", "best")

	if j.ID == "" {
		t.Error("job ID should not be empty")
	}
	if j.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, j.Status)
	}
	if j.ETASeconds != -1 {
		t.Errorf("expected unknown ETA (-1), got %d", j.ETASeconds)
	}
	if j.QueuedAt.IsZero() {
		t.Error("QueuedAt should be set")
	}
	if j.StartedAt != nil || j.FinishedAt != nil {
		t.Error("started/finished timestamps should be unset for a pending job")
	}
}

func TestClone_Independent(t *testing.T) {
	j := New("https://example.com/watch?v=abc", "best")
	now := j.QueuedAt
	j.StartedAt = &now

	c := j.Clone()
	c.Status = StatusActive
	c.Progress = 50
	*c.StartedAt = now.Add(1)

	if j.Status != StatusPending {
		t.Error("mutating clone changed original status")
	}
	if j.Progress != 0 {
		t.Error("mutating clone changed original progress")
	}
	if !j.StartedAt.Equal(now) {
		t.Error("mutating clone changed original timestamp")
	}
}
