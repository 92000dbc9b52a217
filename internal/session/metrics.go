package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_created_total",
		Help: "Sessions created, manually or from the timetable generator.",
	})
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_started_total",
		Help: "Sessions transitioned to ongoing.",
	})
	metricSessionsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_finalized_total",
		Help: "Sessions ended and finalized.",
	})
	metricSessionsMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_missed_total",
		Help: "Sessions auto-marked missed by the sweep.",
	})
	metricConflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_schedule_conflicts_total",
		Help: "Create or dismiss attempts rejected by the conflict detector.",
	})
)
