package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

func TestFanout_DeliversToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := NewFanout(nil, a, nil, b)
	require.Equal(t, 2, f.Len())

	f.AttributeUpdated(lampLevel, "42")
	f.ConnectionStatusChanged("plc", transport.StatusConnected)

	for _, s := range []*recordingSink{a, b} {
		got := s.received()
		require.Len(t, got, 2)
		assert.Equal(t, lampLevel, got[0].ref)
		assert.Equal(t, "42", got[0].value)
		assert.Equal(t, "plc", got[1].configID)
		assert.Equal(t, transport.StatusConnected, got[1].status)
	}
}

func TestFanout_PanickingSinkDoesNotStopOthers(t *testing.T) {
	bad, good := &recordingSink{panics: true}, &recordingSink{}
	f := NewFanout(nil, bad, good)

	assert.NotPanics(t, func() { f.AttributeUpdated(lampLevel, 1) })
	assert.Len(t, good.received(), 1)
}

func TestAsync_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	a := NewAsync("test", sink, 16, nil)

	for i := 0; i < 10; i++ {
		a.AttributeUpdated(lampLevel, i)
	}
	a.ConnectionStatusChanged("plc", transport.StatusDisconnected)
	require.NoError(t, a.Close())

	got := sink.received()
	require.Len(t, got, 11)
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, got[i].value)
	}
	assert.Equal(t, transport.StatusDisconnected, got[10].status)
	assert.Zero(t, a.Dropped())

	// Closed sinks count instead of panicking.
	a.AttributeUpdated(lampLevel, "late")
	assert.Equal(t, uint64(1), a.Dropped())
	require.NoError(t, a.Close())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &recordingSink{block: block}
	a := NewAsync("slow", sink, 1, nil)

	// The first event may be held by the worker, the second fills the queue.
	for i := 0; i < 5; i++ {
		a.AttributeUpdated(lampLevel, i)
	}
	assert.GreaterOrEqual(t, a.Dropped(), uint64(3))

	close(block)
	require.NoError(t, a.Close())
	assert.Equal(t, uint64(5), uint64(len(sink.received()))+a.Dropped())
}

func TestMQTTPublisher_PublishesRetainedJSON(t *testing.T) {
	pub := &fakePublisher{connected: true}
	p := NewMQTTPublisher(pub, 1, nil)

	p.AttributeUpdated(lampLevel, 21.5)
	p.ConnectionStatusChanged("plc", transport.StatusWaiting)

	msgs := pub.sent()
	require.Len(t, msgs, 2)

	assert.Equal(t, "graylogic/agent/state/lamp-1/level", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	assert.Equal(t, byte(1), msgs[0].qos)
	var attr map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].payload, &attr))
	assert.Equal(t, "lamp-1", attr["asset_id"])
	assert.Equal(t, "level", attr["attribute"])
	assert.Equal(t, 21.5, attr["value"])
	assert.NotEmpty(t, attr["timestamp"])

	assert.Equal(t, "graylogic/agent/status/plc", msgs[1].topic)
	var status map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].payload, &status))
	assert.Equal(t, "plc", status["configuration"])
	assert.Equal(t, "WAITING", status["status"])
}

func TestMQTTPublisher_SkipsWhileDisconnected(t *testing.T) {
	pub := &fakePublisher{}
	p := NewMQTTPublisher(pub, 0, nil)

	p.AttributeUpdated(lampLevel, 1)
	assert.Empty(t, pub.sent())
	assert.Equal(t, uint64(1), p.Skipped())

	pub.connected = true
	pub.err = errBroker
	p.AttributeUpdated(lampLevel, 2)
	assert.Equal(t, uint64(1), p.Failed())
}

func TestMetricsSink(t *testing.T) {
	w := &fakeMetricsWriter{}
	m := NewMetricsSink(w)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	m.AttributeUpdated(lampLevel, 7)
	m.ConnectionStatusChanged("plc", transport.StatusError)

	require.Len(t, w.values, 1)
	assert.Equal(t, writtenValue{"lamp-1", "level", 7, at}, w.values[0])
	require.Len(t, w.statuses, 1)
	assert.Equal(t, writtenStatus{"plc", "ERROR", at}, w.statuses[0])
}
