// Package protocol links asset attributes to devices reached over a
// transport connection, correlates requests with responses, and polls
// devices that do not push their state.
//
// # Architecture
//
//	LinkAttribute / WriteAttribute / UnlinkAttribute
//	                    │
//	             ┌──────▼──────┐        ┌───────────┐
//	             │   Runtime   │───────►│ EventSink │
//	             └──┬───────┬──┘        └───────────┘
//	     Registry   │       │   Scheduler (timers, polling)
//	(AttributeRef → │       │
//	 AttributeLink) │       │
//	             ┌──▼───────▼──┐
//	             │ Correlator  │ one per shared connection
//	             └──────┬──────┘
//	             codec  │  transport.Connection
//	                    ▼
//	                 device
//
// Configurations with the same endpoint and codec share one connection and
// one Correlator. The connection is closed when the last configuration
// using it is unlinked.
//
// # Link lifecycle
//
// Every AttributeLink carries a small state machine:
//
//	UNLINKED ──link──► LINKING ──linked──► LINKED ──unlink──► UNLINKING ──unlinked──► UNLINKED
//	                      │
//	                      └──abort──► UNLINKED   (invalid parameters, ErrConfiguration)
//
// A link is registered only once validation succeeds. After UnlinkAttribute
// returns, no attribute update is emitted for the link: its polling task is
// cancelled, its pending exchange is discarded and late responses are
// dropped.
//
// # Exchanges
//
// Correlator.Send never blocks on the response. With a handler, a pending
// exchange is armed with the link's response timeout and retried up to the
// link's retry count; the handler sees either the matching response or
// ErrTimeout, exactly once. A link has at most one pending exchange; a new
// send replaces it. Writes are sent without a handler.
//
// # Errors
//
//   - ErrConfiguration: invalid link-time parameters.
//   - ErrNotConnected: send while the connection is not CONNECTED.
//   - ErrTimeout: no response after all retries.
//   - ErrEncoding: message does not conform to the codec.
//   - ErrNotLinked, ErrReadOnly: rejected writes. Expected, never fatal.
package protocol
