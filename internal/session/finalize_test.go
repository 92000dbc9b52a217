package session

import (
	"testing"
)

func TestFinalizeRecords(t *testing.T) {
	day := date(2026, 3, 2)
	cutoff := at(day, "09:10")
	endedAt := at(day, "10:00")

	records := []AttendanceRecord{
		{StudentID: "s01", Status: AttendancePresent, Timestamp: at(day, "09:03"), Method: MethodManual},
		{StudentID: "s02", Status: AttendancePresent, Timestamp: at(day, "09:10"), Method: MethodFace},
		{StudentID: "s03", Status: AttendancePresent, Timestamp: at(day, "09:16"), Method: MethodManual},
		{StudentID: "s04", Status: AttendanceExcused, Method: MethodManual},
		{StudentID: "s05", Status: AttendanceAbsent, Method: MethodPending},
	}

	out := finalizeRecords(records, cutoff, endedAt)

	want := map[string]AttendanceStatus{
		"s01": AttendancePresent,
		"s02": AttendancePresent, // exactly on the cutoff stays Present
		"s03": AttendanceLate,
		"s04": AttendanceExcused,
		"s05": AttendanceAbsent,
	}
	for _, rec := range out {
		if rec.Status != want[rec.StudentID] {
			t.Errorf("%s: status = %s, want %s", rec.StudentID, rec.Status, want[rec.StudentID])
		}
	}

	// The unmarked placeholder is stamped by the auto pass.
	if out[4].Method != MethodAuto {
		t.Errorf("s05 method = %s, want %s", out[4].Method, MethodAuto)
	}
	if !out[4].Timestamp.Equal(endedAt) {
		t.Errorf("s05 timestamp = %v, want %v", out[4].Timestamp, endedAt)
	}

	// Input slice is untouched.
	if records[4].Status != AttendanceAbsent || records[4].Method != MethodPending {
		t.Error("finalizeRecords mutated its input")
	}
}

func TestComputeStatistics(t *testing.T) {
	tests := []struct {
		name     string
		statuses []AttendanceStatus
		want     Statistics
	}{
		{
			name:     "empty roster",
			statuses: nil,
			want:     Statistics{},
		},
		{
			name:     "mixed outcomes",
			statuses: []AttendanceStatus{AttendancePresent, AttendancePresent, AttendanceLate, AttendanceAbsent, AttendanceExcused},
			want:     Statistics{TotalExpected: 5, Present: 2, Late: 1, Absent: 1, Excused: 1, AttendanceRate: 60},
		},
		{
			name:     "rate rounds to two decimals",
			statuses: []AttendanceStatus{AttendancePresent, AttendanceAbsent, AttendanceAbsent},
			want:     Statistics{TotalExpected: 3, Present: 1, Absent: 2, AttendanceRate: 33.33},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := make([]AttendanceRecord, len(tt.statuses))
			for i, st := range tt.statuses {
				records[i] = AttendanceRecord{StudentID: string(rune('a' + i)), Status: st}
			}
			got := computeStatistics(records)
			if got != tt.want {
				t.Errorf("computeStatistics = %+v, want %+v", got, tt.want)
			}
			total := got.Present + got.Late + got.Absent + got.Excused
			if total != got.TotalExpected {
				t.Errorf("tallies sum to %d, want %d", total, got.TotalExpected)
			}
		})
	}
}
