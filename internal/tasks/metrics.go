package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskgarden"

var (
	tasksLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "loaded",
		Help:      "Number of tasks in the visible set",
	})

	visibilityLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "visibility_loads_total",
		Help:      "Total number of visibility query loads by query and result",
	}, []string{"query", "result"})

	discardedLoads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "discarded_loads_total",
		Help:      "Loads whose result was dropped because the identity changed",
	})

	orphansCompensated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "orphans_compensated_total",
		Help:      "Task rows deleted after their assignment insert failed, by result",
	}, []string{"result"})
)
