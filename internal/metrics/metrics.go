// Package metrics holds the Prometheus collectors shared by the account
// services and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forum_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	inviteQuotaChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_invite_quota_changes_total",
		Help: "Invite quota adjustments by operation.",
	}, []string{"op"})

	invitesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forum_invites_issued_total",
		Help: "Invites issued.",
	})

	counterCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_counter_corrections_total",
		Help: "Cached counter drift corrections by field.",
	}, []string{"field"})

	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_reconcile_runs_total",
		Help: "Per-user counter reconciliations by result.",
	}, []string{"result"})

	auditEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forum_audit_entries_total",
		Help: "Audit log entries appended.",
	})

	passwordChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forum_password_changes_total",
		Help: "Stored credentials replaced.",
	})
)

// RecordInviteQuota records a grant or revoke.
func RecordInviteQuota(op string) {
	inviteQuotaChanges.WithLabelValues(op).Inc()
}

// RecordInviteIssued records a newly issued invite.
func RecordInviteIssued() {
	invitesIssued.Inc()
}

// RecordCounterCorrection records one corrected cached counter.
func RecordCounterCorrection(field string) {
	counterCorrections.WithLabelValues(field).Inc()
}

// RecordReconcile records the outcome of reconciling one user.
func RecordReconcile(success bool) {
	if success {
		reconcileRuns.WithLabelValues("success").Inc()
	} else {
		reconcileRuns.WithLabelValues("failure").Inc()
	}
}

// RecordAuditAppend records an audit log append.
func RecordAuditAppend() {
	auditEntries.Inc()
}

// RecordPasswordChange records a replaced credential.
func RecordPasswordChange() {
	passwordChanges.Inc()
}
