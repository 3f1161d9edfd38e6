package trace

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
)

// Recorder appends exchange events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type Recorder struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewRecorder opens path for appending, creating it with permissions 0644
// if needed.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		file:    f,
		encoder: newEncoder(f),
	}, nil
}

// Trace records ev. Calls after Close are ignored.
func (r *Recorder) Trace(ev protocol.TraceEvent) {
	r.Record(FromTraceEvent(ev))
}

// Record writes an event. Encoding failures are counted, not returned.
func (r *Recorder) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if err := r.encoder.Encode(ev); err != nil {
		r.dropped++
	}
}

// Dropped returns how many events failed to encode or write.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close closes the file. It is safe to call Close multiple times.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

var _ protocol.Tracer = (*Recorder)(nil)
