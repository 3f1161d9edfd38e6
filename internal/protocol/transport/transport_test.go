package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusRecorder collects status transitions from a connection.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *statusRecorder) contains(s Status) bool {
	for _, got := range r.all() {
		if got == s {
			return true
		}
	}
	return false
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusUnknown, "UNKNOWN"},
		{StatusConnecting, "CONNECTING"},
		{StatusConnected, "CONNECTED"},
		{StatusDisconnected, "DISCONNECTED"},
		{StatusWaiting, "WAITING"},
		{StatusError, "ERROR"},
		{Status(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"tcp ok", Config{Type: TypeTCP, Host: "10.0.0.1", Port: 502}, false},
		{"tcp no host", Config{Type: TypeTCP, Port: 502}, true},
		{"udp bad port", Config{Type: TypeUDP, Host: "h", Port: 70000}, true},
		{"udp bad bind port", Config{Type: TypeUDP, Host: "h", Port: 6454, BindPort: -1}, true},
		{"serial ok", Config{Type: TypeSerial, Serial: SerialConfig{Device: "/dev/ttyUSB0", Parity: "E", StopBits: 2}}, false},
		{"serial no device", Config{Type: TypeSerial}, true},
		{"serial bad parity", Config{Type: TypeSerial, Serial: SerialConfig{Device: "/dev/ttyS0", Parity: "X"}}, true},
		{"mqtt ok", Config{Type: TypeMQTT, MQTT: MQTTConfig{Broker: "tcp://b:1883", PublishTopic: "dev/in", SubscribeTopic: "dev/out"}}, false},
		{"mqtt missing topics", Config{Type: TypeMQTT, MQTT: MQTTConfig{Broker: "tcp://b:1883"}}, true},
		{"unknown", Config{Type: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigURI(t *testing.T) {
	assert.Equal(t, "tcp://10.0.0.1:502", Config{Type: TypeTCP, Host: "10.0.0.1", Port: 502}.URI())
	assert.Equal(t, "udp://[::1]:6454?bind=6454", Config{Type: TypeUDP, Host: "::1", Port: 6454, BindPort: 6454}.URI())
	assert.Equal(t, "serial:///dev/ttyUSB0", Config{Type: TypeSerial, Serial: SerialConfig{Device: "/dev/ttyUSB0"}}.URI())
}

func TestNewSelectsVariant(t *testing.T) {
	conn, err := New(Config{Type: TypeTCP, Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)
	assert.IsType(t, &StreamConnection{}, conn)

	conn, err = New(Config{Type: TypeMQTT, MQTT: MQTTConfig{Broker: "tcp://b:1883", PublishTopic: "a", SubscribeTopic: "b"}})
	require.NoError(t, err)
	assert.IsType(t, &MQTTConnection{}, conn)

	_, err = New(Config{Type: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSerialPortConfigDefaults(t *testing.T) {
	sc, err := serialPortConfig(SerialConfig{Device: "/dev/ttyS1"})
	require.NoError(t, err)
	assert.Equal(t, 9600, sc.Baud)
	assert.Equal(t, byte(8), sc.Size)
	assert.Equal(t, defaultSerialReadTimeout, sc.ReadTimeout)

	_, err = serialPortConfig(SerialConfig{Device: "/dev/ttyS1", DataBits: 9})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSendWhenNotConnected(t *testing.T) {
	conn := NewTCPConnection(Config{Type: TypeTCP, Host: "127.0.0.1", Port: 1})
	err := conn.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, uint64(0), conn.Stats().FramesTx)
}

func TestTCPConnectionEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 64)
		for {
			n, err := c.Read(buf)
			if err != nil {
				return
			}
			if _, err := c.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	conn := NewTCPConnection(Config{Type: TypeTCP, Host: "127.0.0.1", Port: port})

	rec := &statusRecorder{}
	conn.AddStatusConsumer(rec.record)

	frames := make(chan []byte, 4)
	conn.AddMessageConsumer(func(f []byte) { frames <- f })

	require.NoError(t, conn.Connect(context.Background()))
	require.Eventually(t, func() bool { return conn.Status() == StatusConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Send([]byte("PING")))

	select {
	case f := <-frames:
		assert.Equal(t, []byte("PING"), f)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}

	require.NoError(t, conn.Disconnect())
	assert.Equal(t, StatusDisconnected, conn.Status())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, rec.all())

	stats := conn.Stats()
	assert.Equal(t, uint64(1), stats.FramesTx)
	assert.Equal(t, uint64(4), stats.BytesTx)

	assert.ErrorIs(t, conn.Connect(context.Background()), ErrClosed)
}

func TestTCPConnectionRefusedReportsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	conn := NewTCPConnection(Config{Type: TypeTCP, Host: "127.0.0.1", Port: port, ConnectTimeoutMS: 500})
	rec := &statusRecorder{}
	conn.AddStatusConsumer(rec.record)

	require.NoError(t, conn.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.contains(StatusError) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Status{StatusConnecting, StatusError}, rec.all()[:2])

	require.NoError(t, conn.Disconnect())
}

func TestTCPConnectionReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	conn := NewTCPConnection(Config{
		Type: TypeTCP, Host: "127.0.0.1", Port: port,
		Reconnect: true, ReconnectIntervalMS: 20,
	})
	rec := &statusRecorder{}
	conn.AddStatusConsumer(rec.record)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	first := <-accepted
	require.Eventually(t, func() bool { return conn.Status() == StatusConnected }, 2*time.Second, 10*time.Millisecond)

	// Server drops the client; the connection must come back on its own.
	first.Close()

	select {
	case second := <-accepted:
		defer second.Close()
	case <-time.After(3 * time.Second):
		t.Fatal("client did not reconnect")
	}
	require.Eventually(t, func() bool { return conn.Status() == StatusConnected }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.contains(StatusWaiting) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), conn.Stats().Reconnects)
}

func TestUDPConnectionRoundTrip(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	go func() {
		buf := make([]byte, 512)
		n, addr, err := server.ReadFromUDP(buf)
		if err != nil {
			return
		}
		//nolint:errcheck // test responder
		server.WriteToUDP(append([]byte("ACK:"), buf[:n]...), addr)
	}()

	port := server.LocalAddr().(*net.UDPAddr).Port
	conn, err := New(Config{Type: TypeUDP, Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	assert.Equal(t, "udp://127.0.0.1:"+strconv.Itoa(port), conn.URI())

	frames := make(chan []byte, 1)
	remove := conn.AddMessageConsumer(func(f []byte) { frames <- f })
	defer remove()

	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()
	require.Eventually(t, func() bool { return conn.Status() == StatusConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Send([]byte{0x01, 0x02}))
	select {
	case f := <-frames:
		assert.Equal(t, []byte{'A', 'C', 'K', ':', 0x01, 0x02}, f)
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram received")
	}
}

func TestRemovedConsumerIsNotCalled(t *testing.T) {
	b := newBase("test://x")
	b.startDispatcher()

	remove := b.AddMessageConsumer(func([]byte) { t.Error("removed consumer called") })
	remove()
	b.deliver([]byte("b"))
	b.stopDispatcher()

	assert.Equal(t, uint64(1), b.Stats().FramesRx)
}

func TestConsumerPanicIsRecovered(t *testing.T) {
	b := newBase("test://panic")
	b.startDispatcher()

	got := make(chan []byte, 1)
	b.AddMessageConsumer(func([]byte) { panic("boom") })
	b.AddMessageConsumer(func(f []byte) { got <- f })

	b.deliver([]byte("ok"))
	select {
	case f := <-got:
		assert.Equal(t, []byte("ok"), f)
	case <-time.After(time.Second):
		t.Fatal("second consumer not called")
	}
	b.stopDispatcher()
	assert.Equal(t, uint64(1), b.Stats().ErrorsTotal)
}
