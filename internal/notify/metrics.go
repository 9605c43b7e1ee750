package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskgarden"

var toastsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "toasts_total",
		Help:      "Total user-visible toasts posted by level",
	},
	[]string{"level"},
)

func recordToast(level Level) {
	toastsTotal.WithLabelValues(string(level)).Inc()
}
