// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SwipesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamr_swipes_recorded_total",
			Help: "Swipe events accepted by the recorder, by action",
		},
		[]string{"action"},
	)

	PreferenceUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamr_preference_updates_total",
			Help: "Preference engine runs, by outcome",
		},
		[]string{"outcome"},
	)

	UpstreamWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamr_upstream_write_errors_total",
			Help: "Storage failures swallowed during event logging or learning, by operation",
		},
		[]string{"op"},
	)

	SavedSyncOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamr_saved_sync_operations_total",
			Help: "Saved-set upserts and deletes, by operation and result",
		},
		[]string{"op", "result"},
	)

	RequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamr_request_errors_total",
			Help: "Error responses returned by the API, by error type",
		},
		[]string{"type"},
	)
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
