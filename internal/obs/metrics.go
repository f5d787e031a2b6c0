package obs

import (
	"sync/atomic"
	"time"

	"main/internal/risk"
)

// Stage identifies a pipeline counter.
type Stage uint16

const (
	StageReceived Stage = iota
	StageDuplicate
	StageParsed
	StageParseFailed
	StageSkippedPaused
	StageRejected
	StageExecuted
	StageExecuteFailed
	StageDropped
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageDuplicate:
		return "duplicate"
	case StageParsed:
		return "parsed"
	case StageParseFailed:
		return "parse_failed"
	case StageSkippedPaused:
		return "skipped_paused"
	case StageRejected:
		return "rejected"
	case StageExecuted:
		return "executed"
	case StageExecuteFailed:
		return "execute_failed"
	case StageDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Metrics collects lightweight pipeline counters and latency stats.
type Metrics struct {
	stageCounts      [stageCount]uint64
	riskReasonCounts [risk.ReasonCount]uint64

	parseLatency    LatencyStats
	riskEvalLatency LatencyStats
	executeLatency  LatencyStats
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
	StageCounts      map[Stage]uint64
	RiskReasonCounts map[risk.Reason]uint64
	ParseLatency     LatencySnapshot
	RiskEvalLatency  LatencySnapshot
	ExecuteLatency   LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncStage increments the counter for a pipeline stage outcome.
func (m *Metrics) IncStage(s Stage) {
	if m == nil {
		return
	}
	idx := int(s)
	if idx >= 0 && idx < len(m.stageCounts) {
		atomic.AddUint64(&m.stageCounts[idx], 1)
	}
}

// IncRiskReason increments the rejection reason counter.
func (m *Metrics) IncRiskReason(reason risk.Reason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// ObserveParse measures alert parsing latency.
func (m *Metrics) ObserveParse(d time.Duration) {
	if m == nil {
		return
	}
	m.parseLatency.Observe(d)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveExecute measures end-to-end order execution latency.
func (m *Metrics) ObserveExecute(d time.Duration) {
	if m == nil {
		return
	}
	m.executeLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	stageCounts := make(map[Stage]uint64)
	for i := range m.stageCounts {
		if v := atomic.LoadUint64(&m.stageCounts[i]); v > 0 {
			stageCounts[Stage(i)] = v
		}
	}
	riskCounts := make(map[risk.Reason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[risk.Reason(i)] = v
		}
	}
	return Snapshot{
		StageCounts:      stageCounts,
		RiskReasonCounts: riskCounts,
		ParseLatency:     m.parseLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
		ExecuteLatency:   m.executeLatency.Snapshot(),
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
