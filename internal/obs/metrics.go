// Package obs collects lightweight runtime counters and latency stats.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates counters for the live pipeline. All methods are safe
// on a nil receiver so call sites need no guards.
type Metrics struct {
	published     uint64
	delivered     uint64
	handlerErrors uint64
	dropped       uint64

	pipelineRuns      uint64
	pipelineRejects   uint64
	ordersSubmitted   uint64
	ordersRejected    uint64
	storeWriteErrors  uint64
	sessionReconnects uint64

	deliveryLatency LatencyStats
	orderLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metric values.
type Snapshot struct {
	Published         uint64
	Delivered         uint64
	HandlerErrors     uint64
	Dropped           uint64
	PipelineRuns      uint64
	PipelineRejects   uint64
	OrdersSubmitted   uint64
	OrdersRejected    uint64
	StoreWriteErrors  uint64
	SessionReconnects uint64
	DeliveryLatency   LatencySnapshot
	OrderLatency      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) inc(field *uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(field, 1)
}

// IncPublished records one published event.
func (m *Metrics) IncPublished() {
	if m == nil {
		return
	}
	m.inc(&m.published)
}

// IncDelivered records one successful handler delivery.
func (m *Metrics) IncDelivered() {
	if m == nil {
		return
	}
	m.inc(&m.delivered)
}

// IncHandlerError records a handler error or panic.
func (m *Metrics) IncHandlerError() {
	if m == nil {
		return
	}
	m.inc(&m.handlerErrors)
}

// IncDropped records a malformed event dropped before routing.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.inc(&m.dropped)
}

// IncPipelineRun records one pipeline execution.
func (m *Metrics) IncPipelineRun() {
	if m == nil {
		return
	}
	m.inc(&m.pipelineRuns)
}

// IncPipelineReject records a pipeline short-circuit.
func (m *Metrics) IncPipelineReject() {
	if m == nil {
		return
	}
	m.inc(&m.pipelineRejects)
}

// IncOrderSubmitted records one order handed to the gateway.
func (m *Metrics) IncOrderSubmitted() {
	if m == nil {
		return
	}
	m.inc(&m.ordersSubmitted)
}

// IncOrderRejected records a rejected order outcome.
func (m *Metrics) IncOrderRejected() {
	if m == nil {
		return
	}
	m.inc(&m.ordersRejected)
}

// IncStoreWriteError records a persistence write failure.
func (m *Metrics) IncStoreWriteError() {
	if m == nil {
		return
	}
	m.inc(&m.storeWriteErrors)
}

// IncSessionReconnect records one reconnect attempt.
func (m *Metrics) IncSessionReconnect() {
	if m == nil {
		return
	}
	m.inc(&m.sessionReconnects)
}

// ObserveDelivery measures event observed-to-delivered latency.
func (m *Metrics) ObserveDelivery(d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryLatency.Observe(d)
}

// ObserveOrderFlow measures decision-to-outcome latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderLatency.Observe(d)
}

// Observe adds one duration sample.
func (s *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	ns := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, ns)
	for {
		max := atomic.LoadUint64(&s.max)
		if ns <= max || atomic.CompareAndSwapUint64(&s.max, max, ns) {
			return
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	out := LatencySnapshot{
		Count: count,
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		out.Avg = time.Duration(atomic.LoadUint64(&s.sum) / count)
	}
	return out
}

// Snapshot returns a copy of the current metric values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Published:         atomic.LoadUint64(&m.published),
		Delivered:         atomic.LoadUint64(&m.delivered),
		HandlerErrors:     atomic.LoadUint64(&m.handlerErrors),
		Dropped:           atomic.LoadUint64(&m.dropped),
		PipelineRuns:      atomic.LoadUint64(&m.pipelineRuns),
		PipelineRejects:   atomic.LoadUint64(&m.pipelineRejects),
		OrdersSubmitted:   atomic.LoadUint64(&m.ordersSubmitted),
		OrdersRejected:    atomic.LoadUint64(&m.ordersRejected),
		StoreWriteErrors:  atomic.LoadUint64(&m.storeWriteErrors),
		SessionReconnects: atomic.LoadUint64(&m.sessionReconnects),
		DeliveryLatency:   m.deliveryLatency.snapshot(),
		OrderLatency:      m.orderLatency.snapshot(),
	}
}
