package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakePool struct{ acquired, idle, total, max int32 }

func (f fakePool) AcquiredConns() int32 { return f.acquired }
func (f fakePool) IdleConns() int32     { return f.idle }
func (f fakePool) TotalConns() int32    { return f.total }
func (f fakePool) MaxConns() int32      { return f.max }

func TestRecordPoolStats(t *testing.T) {
	RecordPoolStats(fakePool{acquired: 2, idle: 3, total: 5, max: 10})

	assert.Equal(t, 2.0, testutil.ToFloat64(DBPoolConnections.WithLabelValues("in_use")))
	assert.Equal(t, 3.0, testutil.ToFloat64(DBPoolConnections.WithLabelValues("idle")))
	assert.Equal(t, 5.0, testutil.ToFloat64(DBPoolConnections.WithLabelValues("total")))
	assert.Equal(t, 10.0, testutil.ToFloat64(DBPoolConnections.WithLabelValues("max")))
}

func TestObserveStoreOp(t *testing.T) {
	ok := StoreOperations.WithLabelValues("test", "load", ResultOK)
	failed := StoreOperations.WithLabelValues("test", "load", ResultError)
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	ObserveStoreOp("test", "load", time.Now(), nil)
	ObserveStoreOp("test", "load", time.Now(), errors.New("boom"))
	ObserveStoreOp("test", "load", time.Now(), errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+2, testutil.ToFloat64(failed))
}
