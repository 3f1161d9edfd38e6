// Package codec converts between wire bytes and the decoded string messages
// the protocol runtime works with.
//
// Three variants are provided:
//
//   - hex:    bytes <-> upper-case hex digits ("0A1B")
//   - binary: bytes <-> "0"/"1" characters, 8 per byte, MSB first
//   - text:   bytes <-> text in a configured character set (default UTF-8)
//
// Decode is total for every variant: it never fails, and it always consumes
// the whole buffer as a single message. Encode rejects messages outside the
// variant's alphabet with ErrEncoding.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects a codec variant.
type Mode string

// Supported codec modes.
const (
	ModeHex    Mode = "hex"
	ModeBinary Mode = "binary"
	ModeText   Mode = "text"
)

// DefaultCharset is used by the text codec when no charset is configured.
const DefaultCharset = "UTF-8"

var (
	// ErrEncoding is returned when a message does not conform to the codec.
	ErrEncoding = errors.New("codec: message does not conform to codec")

	// ErrUnknownMode is returned by New for an unsupported mode.
	ErrUnknownMode = errors.New("codec: unknown mode")

	// ErrUnknownCharset is returned by New when the text charset cannot be resolved.
	ErrUnknownCharset = errors.New("codec: unknown charset")
)

// Codec is the encode/decode pair for one wire representation.
type Codec interface {
	// Mode reports which variant this is.
	Mode() Mode

	// Decode converts a received buffer into decoded messages.
	Decode(buf []byte) []string

	// Encode converts a message into wire bytes.
	Encode(msg string) ([]byte, error)
}

// Config selects and parameterises a codec.
type Config struct {
	Mode    Mode   `yaml:"mode" toml:"mode" json:"mode"`
	Charset string `yaml:"charset" toml:"charset" json:"charset,omitempty"`
}

// Key identifies the codec configuration; two configs with the same key
// produce interchangeable codecs.
func (c Config) Key() string {
	mode := c.Mode
	if mode == "" {
		mode = ModeText
	}
	if mode != ModeText {
		return string(mode)
	}
	charset := c.Charset
	if charset == "" {
		charset = DefaultCharset
	}
	return string(mode) + ":" + strings.ToUpper(charset)
}

// New builds the codec described by cfg. An empty mode means text.
func New(cfg Config) (Codec, error) {
	switch cfg.Mode {
	case ModeHex:
		return HexCodec{}, nil
	case ModeBinary:
		return BinaryCodec{}, nil
	case ModeText, "":
		return NewTextCodec(cfg.Charset)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}
