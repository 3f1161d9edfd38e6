package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// dialFunc opens the underlying byte stream.
type dialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// StreamConnection runs a Connection over any io.ReadWriteCloser: a TCP
// stream, a connected UDP socket or a serial port. Each Read result is
// delivered as one frame.
//
// Thread Safety: all methods are safe for concurrent use.
//
// Auto-Reconnection: when Reconnect is set, a failed dial or a lost
// connection moves the status to WAITING and the dial is retried with
// exponential backoff starting at ReconnectInterval up to maxReconnectInterval.
type StreamConnection struct {
	*base

	cfg        Config
	dial       dialFunc
	bufferSize int
	eofIsIdle  bool // serial ports report read timeouts as io.EOF

	connMu sync.RWMutex
	conn   io.ReadWriteCloser

	runMu   sync.Mutex
	started bool
	done    *closeOnce
	wg      sync.WaitGroup
}

func newStreamConnection(cfg Config, dial dialFunc, bufferSize int) *StreamConnection {
	return &StreamConnection{
		base:       newBase(cfg.URI()),
		cfg:        cfg,
		dial:       dial,
		bufferSize: bufferSize,
		done:       newCloseOnce(),
	}
}

// NewTCPConnection returns a TCP client connection.
func NewTCPConnection(cfg Config) *StreamConnection {
	address := hostPort(cfg.Host, cfg.Port)
	return newStreamConnection(cfg, func(ctx context.Context) (io.ReadWriteCloser, error) {
		var dialer net.Dialer
		return dialer.DialContext(ctx, "tcp", address)
	}, 4096)
}

// NewUDPConnection returns a UDP client bound to BindPort when set
// (otherwise an ephemeral port) and connected to Host:Port.
func NewUDPConnection(cfg Config) *StreamConnection {
	address := hostPort(cfg.Host, cfg.Port)
	return newStreamConnection(cfg, func(ctx context.Context) (io.ReadWriteCloser, error) {
		raddr, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return nil, err
		}
		var laddr *net.UDPAddr
		if cfg.BindPort > 0 {
			laddr = &net.UDPAddr{Port: cfg.BindPort}
		}
		return net.DialUDP("udp", laddr, raddr)
	}, 65535)
}

// Connect starts the connection loop and returns immediately. The outcome
// is reported through status transitions.
func (c *StreamConnection) Connect(_ context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.done.IsClosed() {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	c.startDispatcher()
	c.wg.Add(1)
	go c.run()
	return nil
}

// Disconnect stops the connection loop and closes the stream. A
// disconnected connection cannot be reconnected.
func (c *StreamConnection) Disconnect() error {
	c.done.Close()
	c.closeConn()
	c.wg.Wait()

	c.setStatus(StatusDisconnected)
	c.stopDispatcher()
	return nil
}

// Send writes data as one frame.
func (c *StreamConnection) Send(data []byte) error {
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if nc, ok := conn.(net.Conn); ok {
		//nolint:errcheck // Best-effort deadline; write error caught below
		nc.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	}
	n, err := conn.Write(data)
	if err != nil {
		c.errorsTotal.Add(1)
		// Force the read loop to notice the failure and reconnect.
		conn.Close()
		return fmt.Errorf("transport: write %s: %w", c.uri, err)
	}
	c.recordSend(n)
	return nil
}

func (c *StreamConnection) run() {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectInterval()
	for {
		if c.done.IsClosed() {
			return
		}

		c.setStatus(StatusConnecting)
		conn, err := c.dialWithTimeout()
		if err != nil {
			c.errorsTotal.Add(1)
			c.logError("connect failed", err)
			c.setStatus(StatusError)
			if !c.waitBeforeRetry(&backoff) {
				return
			}
			continue
		}

		if c.done.IsClosed() {
			conn.Close()
			return
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		backoff = c.cfg.ReconnectInterval()
		c.logInfo("connected", "uri", c.uri)
		c.setStatus(StatusConnected)

		c.readLoop(conn)
		c.closeConn()

		if c.done.IsClosed() {
			return
		}
		c.setStatus(StatusDisconnected)
		if !c.waitBeforeRetry(&backoff) {
			return
		}
		c.reconnects.Add(1)
	}
}

// waitBeforeRetry enters WAITING for the current backoff and grows it.
// It returns false when reconnecting is disabled or Disconnect was called.
func (c *StreamConnection) waitBeforeRetry(backoff *time.Duration) bool {
	if !c.cfg.Reconnect || c.done.IsClosed() {
		return false
	}

	c.setStatus(StatusWaiting)
	c.logInfo("waiting to reconnect", "uri", c.uri, "backoff", backoff.String())

	timer := time.NewTimer(*backoff)
	defer timer.Stop()
	select {
	case <-c.done.Done():
		return false
	case <-timer.C:
	}

	next := *backoff * 2
	if next > maxReconnectInterval {
		next = maxReconnectInterval
	}
	*backoff = next
	return true
}

func (c *StreamConnection) dialWithTimeout() (io.ReadWriteCloser, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout())
	defer cancel()

	// Abort the dial promptly on Disconnect.
	go func() {
		select {
		case <-c.done.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.uri, err)
	}
	return conn, nil
}

func (c *StreamConnection) readLoop(conn io.Reader) {
	buf := make([]byte, c.bufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			c.deliver(frame)
		}
		if err == nil {
			continue
		}
		if c.eofIsIdle && errors.Is(err, io.EOF) && !c.done.IsClosed() {
			continue
		}
		if !c.done.IsClosed() {
			c.errorsTotal.Add(1)
			c.logError("read failed", err)
		}
		return
	}
}

func (c *StreamConnection) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

var _ Connection = (*StreamConnection)(nil)
