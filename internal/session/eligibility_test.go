package session

import (
	"testing"
	"time"
)

func gateSession(status Status) Session {
	return Session{
		ID:        "sess1",
		ClassID:   "c1",
		Date:      date(2026, 3, 2),
		StartTime: MustTimeOfDay("09:00"),
		EndTime:   MustTimeOfDay("10:00"),
		Status:    status,
	}
}

func TestGateCanStart(t *testing.T) {
	gate := Gate{Window: 15 * time.Minute}
	day := date(2026, 3, 2)

	tests := []struct {
		name       string
		status     Status
		now        time.Time
		want       bool
		wantReason string
	}{
		{name: "on time", status: StatusScheduled, now: at(day, "09:00"), want: true},
		{name: "earliest bound inclusive", status: StatusScheduled, now: at(day, "08:45"), want: true},
		{name: "latest bound inclusive", status: StatusScheduled, now: at(day, "09:15"), want: true},
		{name: "one minute too early", status: StatusScheduled, now: at(day, "08:44"),
			want: false, wantReason: "Too early. Session can be started in 1 minutes"},
		{name: "half hour too early", status: StatusScheduled, now: at(day, "08:15"),
			want: false, wantReason: "Too early. Session can be started in 30 minutes"},
		{name: "window passed", status: StatusScheduled, now: at(day, "09:16"),
			want: false, wantReason: "Session start window has passed. Please reschedule."},
		{name: "already ongoing", status: StatusOngoing, now: at(day, "09:00"),
			want: false, wantReason: "Session is already ongoing"},
		{name: "already completed", status: StatusCompleted, now: at(day, "09:00"),
			want: false, wantReason: "Session is already completed"},
		{name: "already missed", status: StatusMissed, now: at(day, "09:00"),
			want: false, wantReason: "Session is already missed"},
		{name: "already dismissed", status: StatusDismissed, now: at(day, "09:00"),
			want: false, wantReason: "Session is already dismissed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := gate.CanStart(gateSession(tt.status), tt.now)
			if got != tt.want {
				t.Fatalf("CanStart = %v (%q), want %v", got, reason, tt.want)
			}
			if !got && reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestGateOverdue(t *testing.T) {
	gate := Gate{Window: 15 * time.Minute}
	day := date(2026, 3, 2)
	s := gateSession(StatusScheduled)

	if gate.Overdue(s, at(day, "09:15")) {
		t.Error("session still inside the window should not be overdue")
	}
	if !gate.Overdue(s, at(day, "09:16")) {
		t.Error("session past the window should be overdue")
	}
}
