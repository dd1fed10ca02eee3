package degradation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientsim/internal/types"
)

func metric(round int, overall float64, risk types.DegradationRisk) QualityMetrics {
	return QualityMetrics{Round: round, Overall: overall, Risk: risk, ResponseCountNormal: true}
}

func TestWindow_Capacity(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Push(metric(i, 0.9, types.RiskLow))
	}

	require.Equal(t, 3, w.Len())
	got := w.Metrics()
	assert.Equal(t, 3, got[0].Round)
	assert.Equal(t, 5, got[2].Round)

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 5, latest.Round)
	assert.Equal(t, 5, w.Trend(0).TotalAssessments)
}

func TestWindow_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultWindowSize, NewWindow(0).Size())
}

func TestWindow_Trend(t *testing.T) {
	w := NewWindow(10)
	assert.Equal(t, TrendInsufficientData, w.Trend(3).Direction)

	w.Push(metric(1, 0.9, types.RiskLow))
	assert.Equal(t, TrendInsufficientData, w.Trend(3).Direction)

	w.Push(metric(2, 0.7, types.RiskLow))
	w.Push(metric(3, 0.5, types.RiskHigh))

	rep := w.Trend(3)
	assert.Equal(t, TrendDeclining, rep.Direction)
	assert.Equal(t, "increasing", rep.RiskTrend)
	assert.InDelta(t, 0.7, rep.Mean, 1e-9)
	assert.InDelta(t, 0.04, rep.Variance, 1e-9)
	assert.Len(t, rep.Recent, 3)
	assert.Equal(t, 1, rep.EventsCount)

	w.Push(metric(4, 0.8, types.RiskLow))
	rep = w.Trend(3)
	assert.Equal(t, TrendImproving, rep.Direction)
	assert.Equal(t, TrendStable, rep.RiskTrend)

	w.Push(metric(5, 0.8, types.RiskLow))
	assert.Equal(t, TrendStable, w.Trend(2).Direction)
}

func TestWindow_EventsOnHighAndCritical(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := NewWindow(10)
	w.now = func() time.Time { return fixed }

	w.Push(metric(1, 0.9, types.RiskLow))
	w.Push(metric(2, 0.6, types.RiskMedium))
	w.Push(QualityMetrics{Round: 3, Overall: 0.1, Risk: types.RiskCritical, SelfIntroduction: true})
	w.Push(metric(4, 0.45, types.RiskHigh))

	events := w.Events()
	require.Len(t, events, 2)
	assert.Equal(t, 3, events[0].Round)
	assert.Equal(t, types.RiskCritical, events[0].Risk)
	assert.Equal(t, []string{"self_introduction", "abnormal_response_count"}, events[0].Indicators)
	assert.Equal(t, fixed, events[0].At)
	assert.Equal(t, types.RiskHigh, events[1].Risk)
}

func TestWindow_Summary(t *testing.T) {
	w := NewWindow(10)
	assert.Equal(t, "no_data", w.Summary().Status)

	w.Push(metric(1, 0.9, types.RiskLow))
	w.Push(metric(2, 0.5, types.RiskHigh))

	s := w.Summary()
	assert.Equal(t, 2, s.TotalAssessments)
	assert.Equal(t, 1, s.EventsCount)
	assert.Equal(t, types.RiskHigh, s.CurrentRisk)
	assert.InDelta(t, 0.7, s.AverageQuality, 1e-9)
	assert.Equal(t, "degraded", s.Status)
	assert.Equal(t, TrendDeclining, s.Trend.Direction)

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Events())
}

func TestWindow_CloneIsIndependent(t *testing.T) {
	w := NewWindow(5)
	w.Push(metric(1, 0.9, types.RiskLow))

	c := w.Clone()
	c.Push(metric(2, 0.2, types.RiskCritical))

	assert.Equal(t, 1, w.Len())
	assert.Empty(t, w.Events())
	assert.Equal(t, 2, c.Len())
}
