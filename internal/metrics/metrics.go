package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AdmissionsTotal counts gate outcomes by decision:
	// admitted|no_credential|unknown_key|inactive|model_blocked|provider_blocked|budget_exceeded|rate_limited
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govern_admissions_total",
			Help: "Authorization gate outcomes by decision",
		},
		[]string{"decision"},
	)

	// UsageTokensTotal counts tokens recorded per provider.
	UsageTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govern_usage_tokens_total",
			Help: "Tokens recorded by the usage tracker, by provider",
		},
		[]string{"provider"},
	)

	// UsageCostTotal counts spend (smallest currency unit) per provider.
	UsageCostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govern_usage_cost_total",
			Help: "Cost recorded by the usage tracker, by provider",
		},
		[]string{"provider"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		AdmissionsTotal,
		UsageTokensTotal,
		UsageCostTotal,
	)
}
