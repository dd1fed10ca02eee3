package degradation

import (
	"time"

	"patientsim/internal/types"
)

// DefaultWindowSize is the number of assessments a Window retains.
const DefaultWindowSize = 10

// maxEvents caps the degradation event log per session.
const maxEvents = 100

// DegradationEvent records a turn that reached high or critical risk.
type DegradationEvent struct {
	Round      int                   `json:"round"`
	Risk       types.DegradationRisk `json:"risk"`
	Quality    float64               `json:"quality"`
	Indicators []string              `json:"indicators,omitempty"`
	At         time.Time             `json:"at"`
}

// Trend directions.
const (
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// TrendReport summarizes the most recent assessments. It is observational
// and never feeds back into scoring.
type TrendReport struct {
	Direction        string    `json:"direction"`
	Mean             float64   `json:"mean"`
	Variance         float64   `json:"variance"`
	RiskTrend        string    `json:"risk_trend"`
	Recent           []float64 `json:"recent"`
	TotalAssessments int       `json:"total_assessments"`
	EventsCount      int       `json:"events_count"`
}

// Summary is the session-level degradation report.
type Summary struct {
	TotalAssessments int                   `json:"total_assessments"`
	EventsCount      int                   `json:"events_count"`
	CurrentQuality   float64               `json:"current_quality"`
	CurrentRisk      types.DegradationRisk `json:"current_risk"`
	AverageQuality   float64               `json:"average_quality"`
	Trend            TrendReport           `json:"trend"`
	Indicators       []string              `json:"indicators,omitempty"`
	Status           string                `json:"status"`
}

// Window is the per-session rolling list of assessments, oldest first.
// Not safe for concurrent use; the session serializes turns.
type Window struct {
	size    int
	metrics []QualityMetrics
	events  []DegradationEvent
	total   int
	now     func() time.Time
}

// NewWindow creates a window keeping the last size assessments.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, now: time.Now}
}

// Push appends an assessment, dropping the oldest past capacity.
func (w *Window) Push(q QualityMetrics) {
	w.metrics = append(w.metrics, q)
	if over := len(w.metrics) - w.size; over > 0 {
		w.metrics = append([]QualityMetrics(nil), w.metrics[over:]...)
	}
	w.total++

	if q.Risk.AtLeast(types.RiskHigh) {
		w.events = append(w.events, DegradationEvent{
			Round:      q.Round,
			Risk:       q.Risk,
			Quality:    q.Overall,
			Indicators: q.Indicators(),
			At:         w.now(),
		})
		if over := len(w.events) - maxEvents; over > 0 {
			w.events = append([]DegradationEvent(nil), w.events[over:]...)
		}
	}
}

// Len returns the number of retained assessments.
func (w *Window) Len() int { return len(w.metrics) }

// Size returns the capacity.
func (w *Window) Size() int { return w.size }

// Metrics returns a copy of the retained assessments.
func (w *Window) Metrics() []QualityMetrics {
	out := make([]QualityMetrics, len(w.metrics))
	copy(out, w.metrics)
	return out
}

// Latest returns the most recent assessment.
func (w *Window) Latest() (QualityMetrics, bool) {
	if len(w.metrics) == 0 {
		return QualityMetrics{}, false
	}
	return w.metrics[len(w.metrics)-1], true
}

// Events returns a copy of the recorded degradation events.
func (w *Window) Events() []DegradationEvent {
	out := make([]DegradationEvent, len(w.events))
	copy(out, w.events)
	return out
}

// Trend reports on the last n assessments.
func (w *Window) Trend(n int) TrendReport {
	rep := TrendReport{TotalAssessments: w.total, EventsCount: len(w.events)}
	if n <= 0 || n > len(w.metrics) {
		n = len(w.metrics)
	}
	if n < 2 {
		rep.Direction = TrendInsufficientData
		rep.RiskTrend = TrendInsufficientData
		return rep
	}

	recent := w.metrics[len(w.metrics)-n:]
	rep.Recent = make([]float64, n)
	var sum float64
	for i, q := range recent {
		rep.Recent[i] = q.Overall
		sum += q.Overall
	}
	rep.Mean = sum / float64(n)
	var sq float64
	for _, v := range rep.Recent {
		sq += (v - rep.Mean) * (v - rep.Mean)
	}
	rep.Variance = sq / float64(n-1)

	last, prev := recent[n-1], recent[n-2]
	switch {
	case last.Overall > prev.Overall:
		rep.Direction = TrendImproving
	case last.Overall < prev.Overall:
		rep.Direction = TrendDeclining
	default:
		rep.Direction = TrendStable
	}

	switch first := recent[0].Risk.Rank(); {
	case last.Risk.Rank() > first:
		rep.RiskTrend = "increasing"
	case last.Risk.Rank() < first:
		rep.RiskTrend = "decreasing"
	default:
		rep.RiskTrend = TrendStable
	}
	return rep
}

// Summary reports totals, the current assessment and a short-term trend.
func (w *Window) Summary() Summary {
	s := Summary{
		TotalAssessments: w.total,
		EventsCount:      len(w.events),
		Trend:            w.Trend(3),
	}
	latest, ok := w.Latest()
	if !ok {
		s.Status = "no_data"
		return s
	}
	s.CurrentQuality = latest.Overall
	s.CurrentRisk = latest.Risk
	s.Indicators = latest.Indicators()

	var sum float64
	for _, q := range w.metrics {
		sum += q.Overall
	}
	s.AverageQuality = sum / float64(len(w.metrics))

	switch {
	case latest.Risk.AtLeast(types.RiskHigh):
		s.Status = "degraded"
	case latest.Risk == types.RiskMedium:
		s.Status = "watch"
	default:
		s.Status = "healthy"
	}
	return s
}

// Reset drops every assessment and event.
func (w *Window) Reset() {
	w.metrics = nil
	w.events = nil
	w.total = 0
}

// Clone returns an independent copy.
func (w *Window) Clone() *Window {
	if w == nil {
		return nil
	}
	return &Window{
		size:    w.size,
		metrics: w.Metrics(),
		events:  w.Events(),
		total:   w.total,
		now:     w.now,
	}
}
