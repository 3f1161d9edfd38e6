package trace

import (
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
)

// Event is one recorded exchange step. CBOR uses integer keys.
type Event struct {
	Time time.Time `cbor:"1,keyasint"`

	// Client identifies the shared connection (endpoint and codec).
	Client string `cbor:"2,keyasint"`

	AssetID   string `cbor:"3,keyasint,omitempty"`
	Attribute string `cbor:"4,keyasint,omitempty"`

	// ExchangeID is empty for fire-and-forget sends and unsolicited messages.
	ExchangeID string             `cbor:"5,keyasint,omitempty"`
	Kind       protocol.TraceKind `cbor:"6,keyasint"`
	Message    string             `cbor:"7,keyasint,omitempty"`
	Attempt    int                `cbor:"8,keyasint,omitempty"`
}

// FromTraceEvent converts a runtime trace event.
func FromTraceEvent(ev protocol.TraceEvent) Event {
	return Event{
		Time:       ev.Time,
		Client:     ev.Client,
		AssetID:    ev.Ref.AssetID,
		Attribute:  ev.Ref.Name,
		ExchangeID: ev.ExchangeID,
		Kind:       ev.Kind,
		Message:    ev.Message,
		Attempt:    ev.Attempt,
	}
}

// Ref returns the attribute the event belongs to.
func (e Event) Ref() protocol.AttributeRef {
	return protocol.AttributeRef{AssetID: e.AssetID, Name: e.Attribute}
}
