package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CodesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_codes_issued_total",
			Help: "Verification codes issued, by purpose.",
		},
		[]string{"purpose"},
	)
	CodeChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_code_checks_total",
			Help: "Verification code submissions, by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)
	Grants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signed_access_grants_total",
			Help: "Signed access grant decisions, by kind (read|write|upload) and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification dispatch attempts, by template and status.",
		},
		[]string{"template", "status"},
	)
)

func Register(registry *prometheus.Registry) {
	registry.MustRegister(CodesIssued, CodeChecks, Grants, Notifications)
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
