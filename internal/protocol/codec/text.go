package codec

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// TextCodec converts between bytes and text in a character set.
type TextCodec struct {
	charset string
	enc     encoding.Encoding // nil for UTF-8
}

// NewTextCodec resolves charset (WHATWG/IANA label, case-insensitive) and
// returns a text codec for it. An empty charset means UTF-8.
func NewTextCodec(charset string) (*TextCodec, error) {
	if isUTF8(charset) {
		return &TextCodec{charset: DefaultCharset}, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, charset)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = charset
	}
	if isUTF8(name) {
		return &TextCodec{charset: DefaultCharset}, nil
	}
	return &TextCodec{charset: name, enc: enc}, nil
}

func isUTF8(charset string) bool {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	}
	return false
}

// Charset returns the resolved character set name.
func (c *TextCodec) Charset() string { return c.charset }

// Mode implements Codec.
func (c *TextCodec) Mode() Mode { return ModeText }

// Decode implements Codec. Bytes the charset cannot decode are kept as-is.
func (c *TextCodec) Decode(buf []byte) []string {
	if c.enc == nil {
		return []string{string(buf)}
	}
	out, err := c.enc.NewDecoder().Bytes(buf)
	if err != nil {
		return []string{string(buf)}
	}
	return []string{string(out)}
}

// Encode implements Codec.
func (c *TextCodec) Encode(msg string) ([]byte, error) {
	if c.enc == nil {
		return []byte(msg), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(msg))
	if err != nil {
		return nil, fmt.Errorf("%w: not representable in %s: %w", ErrEncoding, c.charset, err)
	}
	return out, nil
}
