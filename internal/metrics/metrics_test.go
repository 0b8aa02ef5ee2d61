package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterIncrement(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("messages_sent", nil, "messages sent")
	r.IncrementCounter("messages_sent", nil, "messages sent")
	r.AddToCounter("messages_sent", 3, nil, "messages sent")

	assert.Equal(t, float64(5), r.CounterValue("messages_sent", nil))
	assert.Equal(t, float64(0), r.CounterValue("unknown", nil))
}

func TestCounterLabelsAreDistinct(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("delivery_dispatched", map[string]string{"task": "send_sms"}, "")
	r.IncrementCounter("delivery_dispatched", map[string]string{"task": "send_push_text"}, "")
	r.IncrementCounter("delivery_dispatched", map[string]string{"task": "send_sms"}, "")

	assert.Equal(t, float64(2), r.CounterValue("delivery_dispatched", map[string]string{"task": "send_sms"}))
	assert.Equal(t, float64(1), r.CounterValue("delivery_dispatched", map[string]string{"task": "send_push_text"}))
}

func TestGaugeSet(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("outbox_stale_messages", 4, nil, "")
	r.SetGauge("outbox_stale_messages", 1, nil, "")

	assert.Equal(t, float64(1), r.GaugeValue("outbox_stale_messages", nil))
}

func TestSnapshotAndReset(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter("a_counter", nil, "")
	r.SetGauge("b_gauge", 7, nil, "")

	snapshot := r.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, "a_counter", snapshot[0].Name)
	assert.Equal(t, Counter, snapshot[0].Type)
	assert.Equal(t, "b_gauge", snapshot[1].Name)
	assert.Equal(t, Gauge, snapshot[1].Type)

	r.Reset()
	assert.Empty(t, r.Snapshot())
}

func TestGlobalRegistry(t *testing.T) {
	GetRegistry().Reset()

	IncrementCounter("global_counter", nil, "")
	SetGauge("global_gauge", 2, nil, "")

	assert.Equal(t, float64(1), GetRegistry().CounterValue("global_counter", nil))
	assert.Equal(t, float64(2), GetRegistry().GaugeValue("global_gauge", nil))
}
