package session

import (
	"math"
	"time"
)

// finalizeRecords is the pure finalization pass run when a session ends.
// First pass: every record not already Present/Late/Excused is forced to
// Absent with method auto. Second pass: Present records stamped strictly
// after the late cutoff are reclassified Late; a mark landing exactly on the
// cutoff stays Present. The order matters: absentee placeholders forced in
// the first pass never reach the late pass.
func finalizeRecords(records []AttendanceRecord, lateCutoff, now time.Time) []AttendanceRecord {
	out := make([]AttendanceRecord, len(records))
	copy(out, records)

	for i := range out {
		switch out[i].Status {
		case AttendancePresent, AttendanceLate, AttendanceExcused:
		default:
			out[i].Status = AttendanceAbsent
			out[i].Method = MethodAuto
			if out[i].Timestamp.IsZero() {
				out[i].Timestamp = now
			}
		}
	}
	for i := range out {
		if out[i].Status == AttendancePresent && out[i].Timestamp.After(lateCutoff) {
			out[i].Status = AttendanceLate
		}
	}
	return out
}

// computeStatistics tallies finalized records. The rate counts arrivals
// (Present plus Late) over the expected total and is zero when nothing was
// expected, never a division by zero.
func computeStatistics(records []AttendanceRecord) Statistics {
	st := Statistics{TotalExpected: len(records)}
	for _, r := range records {
		switch r.Status {
		case AttendancePresent:
			st.Present++
		case AttendanceLate:
			st.Late++
		case AttendanceExcused:
			st.Excused++
		default:
			st.Absent++
		}
	}
	if st.TotalExpected > 0 {
		rate := float64(st.Present+st.Late) / float64(st.TotalExpected) * 100
		st.AttendanceRate = math.Round(rate*100) / 100
	}
	return st
}
