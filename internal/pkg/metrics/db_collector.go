package metrics

import "github.com/jackc/pgx/v5/pgxpool"

// PoolStats is the subset of pool statistics exported as gauges.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	MaxConns() int32
}

var _ PoolStats = (*pgxpool.Stat)(nil)

// RecordDBPoolMetrics updates the pool gauges from pool.Stat().
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	RecordPoolStats(pool.Stat())
}

// RecordPoolStats updates the pool gauges.
func RecordPoolStats(stats PoolStats) {
	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	DBPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
}
