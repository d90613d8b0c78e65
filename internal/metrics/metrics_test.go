package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(metrics []*Metric, name string, labels map[string]string) *Metric {
	key := metricKey(name, labels)
	for _, m := range metrics {
		if metricKey(m.Name, m.Labels) == key {
			return m
		}
	}
	return nil
}

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("messages_sent_total", nil, "Messages sent")
	r.IncrementCounter("messages_sent_total", nil, "Messages sent")
	r.AddToCounter("messages_sent_total", 3, nil, "Messages sent")

	snap := r.GetSnapshot()
	m := findMetric(snap.Counters, "messages_sent_total", nil)
	require.NotNil(t, m)
	assert.Equal(t, float64(5), m.Value)
	assert.Equal(t, Counter, m.Type)
}

func TestCountersWithDifferentLabelsAreSeparate(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("messages_sent_total", map[string]string{"outcome": "sent"}, "")
	r.IncrementCounter("messages_sent_total", map[string]string{"outcome": "failed"}, "")
	r.IncrementCounter("messages_sent_total", map[string]string{"outcome": "sent"}, "")

	snap := r.GetSnapshot()
	sent := findMetric(snap.Counters, "messages_sent_total", map[string]string{"outcome": "sent"})
	failed := findMetric(snap.Counters, "messages_sent_total", map[string]string{"outcome": "failed"})
	require.NotNil(t, sent)
	require.NotNil(t, failed)
	assert.Equal(t, float64(2), sent.Value)
	assert.Equal(t, float64(1), failed.Value)
}

func TestGaugeOverwrites(t *testing.T) {
	r := NewRegistry()

	r.SetGaugeValue("dispatch_queue_depth", 10, nil, "Queue depth")
	r.SetGaugeValue("dispatch_queue_depth", 3, nil, "Queue depth")

	snap := r.GetSnapshot()
	m := findMetric(snap.Gauges, "dispatch_queue_depth", nil)
	require.NotNil(t, m)
	assert.Equal(t, float64(3), m.Value)
	assert.Equal(t, Gauge, m.Type)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("c", nil, "")

	snap := r.GetSnapshot()
	snap.Counters[0].Value = 99

	again := r.GetSnapshot()
	assert.Equal(t, float64(1), again.Counters[0].Value)
}

func TestSnapshotReportsUptime(t *testing.T) {
	r := NewRegistry()
	snap := r.GetSnapshot()
	assert.GreaterOrEqual(t, snap.UptimeSeconds, float64(0))
}

func TestMetricKeyIsLabelOrderIndependent(t *testing.T) {
	a := metricKey("m", map[string]string{"x": "1", "y": "2"})
	b := metricKey("m", map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, metricKey("m", map[string]string{"x": "1"}))
}

func TestGlobalRegistryHelpers(t *testing.T) {
	IncrementCounter("global_test_counter", nil, "")
	SetGauge("global_test_gauge", 7, nil, "")

	snap := GetRegistry().GetSnapshot()
	assert.NotNil(t, findMetric(snap.Counters, "global_test_counter", nil))
	g := findMetric(snap.Gauges, "global_test_gauge", nil)
	require.NotNil(t, g)
	assert.Equal(t, float64(7), g.Value)
}
