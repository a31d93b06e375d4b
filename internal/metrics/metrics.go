package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Marks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campverse", Name: "attendance_marks_total", Help: "Attendance writes by marker role, category and outcome",
	}, []string{"role", "category", "outcome"})

	PermissionDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campverse", Name: "attendance_permission_denials_total", Help: "Rejected marking attempts by reason",
	}, []string{"reason"})

	DegradedClock = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campverse", Name: "attendance_degraded_clock_decisions_total", Help: "Permission decisions taken on an untrusted clock",
	})

	WriteRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campverse", Name: "attendance_write_retries_total", Help: "Store writes retried after a transient failure",
	})

	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "campverse", Name: "attendance_slot_subscribers", Help: "Live slot attendance subscriptions",
	})

	AuditEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campverse", Name: "audit_entries_total", Help: "Audit entries by kind and outcome",
	}, []string{"kind", "outcome"})
)

func init() {
	prometheus.MustRegister(Marks, PermissionDenials, DegradedClock, WriteRetries, Subscribers, AuditEntries)
}

func Handler() http.Handler { return promhttp.Handler() }
