package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultGone   = "gone"
)

var (
	ModuleLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundux_routing_module_loads_total",
			Help: "Virtual device module loads by role and result",
		},
		[]string{"role", "result"},
	)

	ModuleUnloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundux_routing_module_unloads_total",
			Help: "Virtual device module unloads by result",
		},
		[]string{"result"},
	)

	LeftoversRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soundux_routing_leftovers_removed_total",
			Help: "Modules left over from an earlier session that were unloaded at setup",
		},
	)

	StreamMovesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundux_routing_stream_moves_total",
			Help: "Stream move requests by stream kind and result",
		},
		[]string{"kind", "result"},
	)

	OperationTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soundux_routing_operation_timeouts_total",
			Help: "Server operations that did not complete within the configured timeout",
		},
	)

	RedirectionActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soundux_routing_redirection_active",
			Help: "1 while a redirection of the given kind is active",
		},
		[]string{"kind"},
	)
)

// SetActive records whether a redirection kind is active
func SetActive(kind string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	RedirectionActive.WithLabelValues(kind).Set(v)
}
