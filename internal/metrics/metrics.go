package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "innbot_updates_total",
			Help: "Telegram updates by intake stage and kind",
		},
		[]string{"stage", "kind"}, // accepted|duplicate|dropped|rejected|handled|failed , message|callback|other
	)

	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "innbot_checks_total",
			Help: "Lookup pipeline outcomes",
		},
		[]string{"outcome"},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "innbot_provider_requests_total",
			Help: "Provider lookups by provider and result kind",
		},
		[]string{"provider", "result"},
	)

	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "innbot_cache_total",
			Help: "Result cache reads and writes",
		},
		[]string{"op", "result"}, // get|put , hit|miss|stale|error|ok
	)

	QuotaTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "innbot_quota_decisions_total",
			Help: "Quota gate decisions",
		},
		[]string{"decision"}, // pro|allowed|exceeded|fail_open|fail_closed|released
	)
)

var once sync.Once

// MustRegister registers collectors once per process; serve and worker may both call it.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			UpdatesTotal,
			ChecksTotal,
			ProviderRequestsTotal,
			CacheTotal,
			QuotaTotal,
		)
	})
}
