package trace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
)

var (
	refPower = protocol.AttributeRef{AssetID: "projector", Name: "power"}
	refInput = protocol.AttributeRef{AssetID: "projector", Name: "input"}
)

func writeTrace(t *testing.T, events ...protocol.TraceEvent) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exchanges.trace")
	rec, err := NewRecorder(path)
	require.NoError(t, err)
	for _, ev := range events {
		rec.Trace(ev)
	}
	require.NoError(t, rec.Close())
	return path
}

func TestRecorderCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchanges.trace")

	rec, err := NewRecorder(path)
	require.NoError(t, err)
	defer rec.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRecorderRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	path := writeTrace(t,
		protocol.TraceEvent{Time: base, Client: "tcp://10.0.0.5:4352#text:UTF-8", Ref: refPower, ExchangeID: "ex-1", Kind: protocol.TraceSend, Message: "%1POWR ?", Attempt: 1},
		protocol.TraceEvent{Time: base.Add(time.Second), Client: "tcp://10.0.0.5:4352#text:UTF-8", Ref: refPower, ExchangeID: "ex-1", Kind: protocol.TraceResponse, Message: "%1POWR=1", Attempt: 1},
	)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	events, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.True(t, base.Equal(events[0].Time), "nanosecond timestamps survive")
	assert.Equal(t, refPower, events[0].Ref())
	assert.Equal(t, protocol.TraceSend, events[0].Kind)
	assert.Equal(t, "%1POWR ?", events[0].Message)
	assert.Equal(t, protocol.TraceResponse, events[1].Kind)
	assert.Equal(t, "ex-1", events[1].ExchangeID)
}

func TestRecorderAppends(t *testing.T) {
	path := writeTrace(t, protocol.TraceEvent{Time: time.Now(), Kind: protocol.TraceSend})

	rec, err := NewRecorder(path)
	require.NoError(t, err)
	rec.Trace(protocol.TraceEvent{Time: time.Now(), Kind: protocol.TraceTimeout})
	require.NoError(t, rec.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	events, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, protocol.TraceTimeout, events[1].Kind)
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchanges.trace")
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	// Ignored after close.
	rec.Trace(protocol.TraceEvent{Kind: protocol.TraceSend})
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestRecorderConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchanges.trace")
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				rec.Trace(protocol.TraceEvent{Time: time.Now(), Ref: refPower, Kind: protocol.TraceSend, Message: "PING"})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rec.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	events, err := r.ReadAll()
	require.NoError(t, err)
	assert.Len(t, events, writers*perWriter)
	assert.Zero(t, rec.Dropped())
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := writeTrace(t,
		protocol.TraceEvent{Time: base, Client: "a", Ref: refPower, ExchangeID: "1", Kind: protocol.TraceSend},
		protocol.TraceEvent{Time: base.Add(1 * time.Second), Client: "a", Ref: refPower, ExchangeID: "1", Kind: protocol.TraceRetry},
		protocol.TraceEvent{Time: base.Add(2 * time.Second), Client: "a", Ref: refInput, ExchangeID: "2", Kind: protocol.TraceSend},
		protocol.TraceEvent{Time: base.Add(3 * time.Second), Client: "b", Kind: protocol.TraceUnsolicited, Message: "NOTIFY"},
		protocol.TraceEvent{Time: base.Add(4 * time.Second), Client: "a", Ref: refPower, ExchangeID: "1", Kind: protocol.TraceTimeout},
	)

	since := base.Add(1 * time.Second)
	until := base.Add(4 * time.Second)
	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 5},
		{"client", Filter{Client: "b"}, 1},
		{"attribute", Filter{Ref: &refPower}, 3},
		{"exchange", Filter{ExchangeID: "2"}, 1},
		{"kinds", Filter{Kinds: []protocol.TraceKind{protocol.TraceRetry, protocol.TraceTimeout}}, 2},
		{"time window", Filter{Since: &since, Until: &until}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			require.NoError(t, err)
			defer r.Close()

			events, err := r.ReadAll()
			require.NoError(t, err)
			assert.Len(t, events, tt.want)
		})
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.trace"))
	assert.Error(t, err)
}

func TestEncodeDecodeEvent(t *testing.T) {
	ev := Event{Client: "c", AssetID: "a", Attribute: "b", Kind: protocol.TraceAbandon, Attempt: 2}
	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, ev.Ref(), got.Ref())
	assert.Equal(t, 2, got.Attempt)

	_, err = DecodeEvent([]byte{0xff})
	assert.Error(t, err)
}
