package taskapp

import (
	"sync/atomic"
	"time"
)

// taskMetrics holds counters for task lifecycle events.
type taskMetrics struct {
	sent           atomic.Int64
	received       atomic.Int64
	running        atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	retried        atomic.Int64
	revoked        atomic.Int64
	latencyCount   atomic.Int64
	latencyTotalNs atomic.Int64
	latencyMaxNs   atomic.Int64
}

func (m *taskMetrics) observeLatency(latency time.Duration) {
	m.latencyCount.Add(1)
	m.latencyTotalNs.Add(int64(latency))

	for {
		current := m.latencyMaxNs.Load()
		if int64(latency) <= current {
			return
		}

		if m.latencyMaxNs.CompareAndSwap(current, int64(latency)) {
			return
		}
	}
}

// MetricsSnapshot represents a snapshot of task metrics.
type MetricsSnapshot struct {
	Sent             int64
	Received         int64
	Running          int64
	Succeeded        int64
	Failed           int64
	Retried          int64
	Revoked          int64
	TaskLatencyCount int64
	TaskLatencyTotal time.Duration
	TaskLatencyMax   time.Duration
}

// Metrics returns a snapshot of the app counters, covering every worker of
// the app in this process.
func (a *App) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Sent:             a.metrics.sent.Load(),
		Received:         a.metrics.received.Load(),
		Running:          a.metrics.running.Load(),
		Succeeded:        a.metrics.succeeded.Load(),
		Failed:           a.metrics.failed.Load(),
		Retried:          a.metrics.retried.Load(),
		Revoked:          a.metrics.revoked.Load(),
		TaskLatencyCount: a.metrics.latencyCount.Load(),
		TaskLatencyTotal: time.Duration(a.metrics.latencyTotalNs.Load()),
		TaskLatencyMax:   time.Duration(a.metrics.latencyMaxNs.Load()),
	}
}
