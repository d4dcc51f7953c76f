package obs

import (
	"sync"
	"sync/atomic"
	"time"

	"main/internal/risk"
)

const maxRiskReason = int(risk.ReasonOrderRate)

// Metrics collects lightweight counters and latency stats for the trading
// pipeline. All methods are safe on a nil receiver so callers can leave
// metrics unwired.
type Metrics struct {
	riskReasonCounts [maxRiskReason + 1]uint64
	fills            uint64
	submitted        uint64
	rejected         uint64
	queueDrops       uint64

	realizedPnL   int64
	openPositions int64

	mu      sync.Mutex
	signals map[string]uint64

	riskEvalLatency  LatencyStats
	orderFlowLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	SignalsByStrategy map[string]uint64
	RiskReasonCounts  map[risk.Reason]uint64
	Fills             uint64
	OrdersSubmitted   uint64
	OrdersRejected    uint64
	QueueDrops        uint64
	RealizedPnL       int64
	OpenPositions     int64
	RiskEvalLatency   LatencySnapshot
	OrderFlowLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{signals: make(map[string]uint64)}
}

// IncSignal counts one emitted signal by strategy name.
func (m *Metrics) IncSignal(strategy string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.signals[strategy]++
	m.mu.Unlock()
}

// IncRiskReason counts one risk rejection by reason.
func (m *Metrics) IncRiskReason(reason risk.Reason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// IncFill counts one deduplicated fill.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

// IncSubmitted counts one order handed to a venue.
func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.submitted, 1)
}

// IncRejected counts one order that went terminal without filling.
func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rejected, 1)
}

// IncQueueDrop records one signal dropped on queue overflow.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// SetRealizedPnL gauges the session realized PnL in scaled units.
func (m *Metrics) SetRealizedPnL(v int64) {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.realizedPnL, v)
}

// SetOpenPositions gauges the number of open positions.
func (m *Metrics) SetOpenPositions(v int64) {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.openPositions, v)
}

// ObserveRiskEval measures one risk evaluation.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveOrderFlow measures signal-to-submission latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	riskCounts := make(map[risk.Reason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[risk.Reason(i)] = v
		}
	}
	m.mu.Lock()
	signals := make(map[string]uint64, len(m.signals))
	for k, v := range m.signals {
		signals[k] = v
	}
	m.mu.Unlock()
	return Snapshot{
		SignalsByStrategy: signals,
		RiskReasonCounts:  riskCounts,
		Fills:             atomic.LoadUint64(&m.fills),
		OrdersSubmitted:   atomic.LoadUint64(&m.submitted),
		OrdersRejected:    atomic.LoadUint64(&m.rejected),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		RealizedPnL:       atomic.LoadInt64(&m.realizedPnL),
		OpenPositions:     atomic.LoadInt64(&m.openPositions),
		RiskEvalLatency:   m.riskEvalLatency.Snapshot(),
		OrderFlowLatency:  m.orderFlowLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
