package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// NewSerialConnection returns a connection over a local serial port.
func NewSerialConnection(cfg Config) *StreamConnection {
	c := newStreamConnection(cfg, func(_ context.Context) (io.ReadWriteCloser, error) {
		sc, err := serialPortConfig(cfg.Serial)
		if err != nil {
			return nil, err
		}
		return serial.OpenPort(sc)
	}, 1024)
	c.eofIsIdle = true
	return c
}

// serialPortConfig converts SerialConfig into the driver's settings,
// applying defaults (9600 8N1, 500 ms read timeout).
func serialPortConfig(sc SerialConfig) (*serial.Config, error) {
	parity, err := parseParity(sc.Parity)
	if err != nil {
		return nil, err
	}
	stopBits, err := parseStopBits(sc.StopBits)
	if err != nil {
		return nil, err
	}

	baud := sc.BaudRate
	if baud <= 0 {
		baud = defaultBaudRate
	}
	size := sc.DataBits
	if size <= 0 {
		size = 8
	}
	if size < 5 || size > 8 {
		return nil, fmt.Errorf("%w: serial data bits %d", ErrInvalidConfig, size)
	}
	readTimeout := defaultSerialReadTimeout
	if sc.ReadTimeoutMS > 0 {
		readTimeout = time.Duration(sc.ReadTimeoutMS) * time.Millisecond
	}

	return &serial.Config{
		Name:        sc.Device,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        byte(size),
		Parity:      parity,
		StopBits:    stopBits,
	}, nil
}

func parseParity(p string) (serial.Parity, error) {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "", "N", "NONE":
		return serial.ParityNone, nil
	case "E", "EVEN":
		return serial.ParityEven, nil
	case "O", "ODD":
		return serial.ParityOdd, nil
	case "M", "MARK":
		return serial.ParityMark, nil
	case "S", "SPACE":
		return serial.ParitySpace, nil
	}
	return 0, fmt.Errorf("%w: serial parity %q", ErrInvalidConfig, p)
}

func parseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 0, 1:
		return serial.Stop1, nil
	case 2:
		return serial.Stop2, nil
	case 15:
		return serial.Stop1Half, nil
	}
	return 0, fmt.Errorf("%w: serial stop bits %d", ErrInvalidConfig, n)
}
