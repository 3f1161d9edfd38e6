package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexCodec maps each byte to two upper-case hex digits.
type HexCodec struct{}

// Mode implements Codec.
func (HexCodec) Mode() Mode { return ModeHex }

// Decode implements Codec.
func (HexCodec) Decode(buf []byte) []string {
	return []string{strings.ToUpper(hex.EncodeToString(buf))}
}

// Encode implements Codec. Digits are accepted in either case.
func (HexCodec) Encode(msg string) ([]byte, error) {
	if len(msg)%2 != 0 {
		return nil, fmt.Errorf("%w: hex message has odd length %d", ErrEncoding, len(msg))
	}
	b, err := hex.DecodeString(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return b, nil
}

// BinaryCodec maps each byte to eight '0'/'1' characters, most significant bit first.
type BinaryCodec struct{}

// Mode implements Codec.
func (BinaryCodec) Mode() Mode { return ModeBinary }

// Decode implements Codec.
func (BinaryCodec) Decode(buf []byte) []string {
	var sb strings.Builder
	sb.Grow(len(buf) * 8)
	for _, b := range buf {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<bit) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return []string{sb.String()}
}

// Encode implements Codec.
func (BinaryCodec) Encode(msg string) ([]byte, error) {
	if len(msg)%8 != 0 {
		return nil, fmt.Errorf("%w: binary message length %d is not a multiple of 8", ErrEncoding, len(msg))
	}
	out := make([]byte, len(msg)/8)
	for i := 0; i < len(msg); i++ {
		switch msg[i] {
		case '1':
			out[i/8] |= 1 << (7 - uint(i%8))
		case '0':
		default:
			return nil, fmt.Errorf("%w: invalid binary digit %q at offset %d", ErrEncoding, msg[i], i)
		}
	}
	return out, nil
}
