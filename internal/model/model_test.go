package model

import (
	"testing"
	"time"
)

func TestActivityStatusAt(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	a := Activity{StartTime: start, EndTime: end}

	cases := []struct {
		name string
		now  time.Time
		want string
	}{
		{"before start", start.Add(-time.Minute), ActivityUpcoming},
		{"at start", start, ActivityOngoing},
		{"between", start.Add(time.Hour), ActivityOngoing},
		{"at end", end, ActivityOngoing},
		{"after end", end.Add(time.Second), ActivityCompleted},
	}
	for _, tc := range cases {
		if got := a.StatusAt(tc.now); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}

	a.Cancelled = true
	if got := a.StatusAt(start.Add(time.Hour)); got != ActivityCancelled {
		t.Fatalf("cancelled flag should win, got %s", got)
	}
}

func TestUserDisplayName(t *testing.T) {
	u := User{Username: "2023001", Name: ""}
	if u.DisplayName() != "2023001" {
		t.Fatalf("expected username fallback")
	}
	u.Name = "Alice"
	if u.DisplayName() != "Alice" {
		t.Fatalf("expected recorded name")
	}
}
