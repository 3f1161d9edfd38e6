// Package transport provides the device connections the protocol runtime
// sends through and receives from.
//
// # Architecture
//
// Every variant satisfies the same narrow Connection contract:
//
//	            Send(frame)                  ┌──────────────┐
//	runtime ─────────────────────► variant ──►  device       │
//	   ▲                           (tcp/udp/ │  (socket,     │
//	   │  frames, status (ordered)  serial/  │   port,       │
//	   └─────────── dispatcher ◄──── mqtt)  ◄─  broker)     │
//	                                         └──────────────┘
//
// Connect is asynchronous. Its progress is published as status
// transitions (CONNECTING, CONNECTED, DISCONNECTED, WAITING, ERROR), and
// consumers see every transition, not only terminal ones. Send fails fast
// with ErrNotConnected unless the status is CONNECTED; nothing is queued.
//
// Inbound frames and status transitions go through one bounded queue per
// connection and are delivered on a single goroutine, so consumers observe
// them in receive order. A full queue drops frames (counted in Stats) but
// never status transitions.
//
// # Variants
//
//   - tcp:    net.Dialer stream
//   - udp:    connected UDP socket, optional fixed local bind port
//   - serial: github.com/tarm/serial port
//   - mqtt:   github.com/eclipse/paho.mqtt.golang publish/subscribe topics
//
// # Reconnection
//
// With Reconnect set, a lost or failed connection waits (WAITING) and
// retries with exponential backoff. Without it the connection stays in
// ERROR or DISCONNECTED until it is discarded.
package transport
