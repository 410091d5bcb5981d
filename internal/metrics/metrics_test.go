package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_IncrementAndAdd(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("deliveries_sent", nil)
	r.IncrementCounter("deliveries_sent", nil)
	r.AddToCounter("deliveries_sent", 3, nil)

	assert.Equal(t, float64(5), r.CounterValue("deliveries_sent", nil))
}

func TestCounter_LabelsAreSeparateSeries(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("deliveries_sent", map[string]string{"rule": "news"})
	r.IncrementCounter("deliveries_sent", map[string]string{"rule": "sports"})
	r.IncrementCounter("deliveries_sent", map[string]string{"rule": "news"})

	assert.Equal(t, float64(2), r.CounterValue("deliveries_sent", map[string]string{"rule": "news"}))
	assert.Equal(t, float64(1), r.CounterValue("deliveries_sent", map[string]string{"rule": "sports"}))
	assert.Equal(t, float64(0), r.CounterValue("deliveries_sent", nil))
}

func TestCounterValue_UnknownIsZero(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, float64(0), r.CounterValue("never_seen", nil))
}

func TestRecordTimer_Aggregates(t *testing.T) {
	r := NewRegistry()

	r.RecordTimer("delivery_duration", 10*time.Millisecond, nil)
	r.RecordTimer("delivery_duration", 30*time.Millisecond, nil)
	r.RecordTimer("delivery_duration", 20*time.Millisecond, nil)

	snapshot := r.GetSnapshot()
	timer := snapshot.Timers["delivery_duration"]
	require.NotNil(t, timer)
	assert.Equal(t, int64(3), timer.Count)
	assert.InDelta(t, 60, timer.Sum, 0.001)
	assert.InDelta(t, 10, timer.Min, 0.001)
	assert.InDelta(t, 30, timer.Max, 0.001)
	assert.InDelta(t, 20, timer.Average, 0.001)
}

func TestSetGauge(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("active_accounts", 3, nil)
	r.SetGauge("active_accounts", 5, nil)

	snapshot := r.GetSnapshot()
	assert.Equal(t, float64(5), snapshot.Gauges["active_accounts"])
}

func TestGetSnapshot_IsDeepCopy(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("deliveries_sent", map[string]string{"rule": "news"})

	snapshot := r.GetSnapshot()
	snapshot.Counters["deliveries_sent{rule=news}"].Value = 99
	snapshot.Counters["deliveries_sent{rule=news}"].Labels["rule"] = "tampered"

	assert.Equal(t, float64(1), r.CounterValue("deliveries_sent", map[string]string{"rule": "news"}))
}

func TestMetricKey_LabelOrderIsStable(t *testing.T) {
	a := metricKey("m", map[string]string{"a": "1", "b": "2"})
	b := metricKey("m", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
	assert.Equal(t, "m{a=1}{b=2}", a)
}

func TestSnapshot_ReportsUptime(t *testing.T) {
	r := NewRegistry()
	snapshot := r.GetSnapshot()
	assert.GreaterOrEqual(t, snapshot.UptimeSec, float64(0))
}
