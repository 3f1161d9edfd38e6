package artnet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ArtDMX framing constants.
const (
	// OpDMX is the ArtDMX opcode (sent little-endian).
	OpDMX uint16 = 0x5000

	// ProtocolVersion is the Art-Net revision carried in every packet.
	ProtocolVersion uint16 = 14

	// MaxUniverse is the largest 15-bit port address.
	MaxUniverse = 0x7FFF

	// MaxChannels is the DMX512 frame size.
	MaxChannels = 512

	headerSize = 18
)

var packetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0}

// DMXPacket is an ArtDMX packet carrying one universe's channel data.
type DMXPacket struct {
	Sequence uint8
	Physical uint8
	Universe uint16 // 15-bit port address: Net (7 bits), Sub-Net and Universe (8 bits)
	Data     []byte
}

// MarshalBinary encodes the packet. Data is padded to an even length of at
// least 2 channels.
func (p DMXPacket) MarshalBinary() ([]byte, error) {
	if p.Universe > MaxUniverse {
		return nil, fmt.Errorf("artnet: universe %d exceeds %d", p.Universe, MaxUniverse)
	}
	if len(p.Data) > MaxChannels {
		return nil, fmt.Errorf("artnet: %d channels exceed %d", len(p.Data), MaxChannels)
	}

	n := len(p.Data)
	if n < 2 {
		n = 2
	}
	if n%2 != 0 {
		n++
	}

	buf := make([]byte, headerSize+n)
	copy(buf[0:8], packetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpDMX)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = p.Sequence
	buf[13] = p.Physical
	buf[14] = byte(p.Universe & 0xFF)        // SubUni
	buf[15] = byte((p.Universe >> 8) & 0x7F) // Net
	binary.BigEndian.PutUint16(buf[16:18], uint16(n))
	copy(buf[headerSize:], p.Data)
	return buf, nil
}

// UnmarshalBinary decodes an ArtDMX packet.
func (p *DMXPacket) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("artnet: packet too short (%d bytes)", len(b))
	}
	if [8]byte(b[0:8]) != packetID {
		return errors.New("artnet: bad packet id")
	}
	if op := binary.LittleEndian.Uint16(b[8:10]); op != OpDMX {
		return fmt.Errorf("artnet: opcode 0x%04x is not ArtDMX", op)
	}
	n := int(binary.BigEndian.Uint16(b[16:18]))
	if len(b) < headerSize+n {
		return fmt.Errorf("artnet: length %d exceeds packet", n)
	}

	p.Sequence = b[12]
	p.Physical = b[13]
	p.Universe = uint16(b[15]&0x7F)<<8 | uint16(b[14])
	p.Data = append([]byte(nil), b[headerSize:headerSize+n]...)
	return nil
}
