package artnet

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
)

func lightRef(name string) protocol.AttributeRef {
	return protocol.AttributeRef{AssetID: "stage-light", Name: name}
}

func lightMeta(id int) protocol.LinkMeta {
	return protocol.LinkMeta{LightID: &id}
}

func decodePacket(t *testing.T, msg string) DMXPacket {
	t.Helper()
	raw, err := hex.DecodeString(msg)
	require.NoError(t, err)
	var p DMXPacket
	require.NoError(t, p.UnmarshalBinary(raw))
	return p
}

// encode runs EncodeWrite and returns the message it sent.
func encode(e *Encoder, ref protocol.AttributeRef, meta protocol.LinkMeta, value any) (string, error) {
	var msg string
	err := e.EncodeWrite(ref, meta, value, func(m string) error {
		msg = m
		return nil
	})
	return msg, err
}

func newTestEncoder(t *testing.T) *Encoder {
	t.Helper()
	e, err := NewEncoder(Config{Lights: []Light{
		{ID: 1, Universe: 0, LEDs: 1},
		{ID: 2, Universe: 0, LEDs: 2},
		{ID: 3, Universe: 1, LEDs: 1},
	}})
	require.NoError(t, err)
	return e
}

func TestPacketHeader(t *testing.T) {
	b, err := DMXPacket{Sequence: 7, Universe: 0x1234, Data: []byte{1, 2, 3}}.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, []byte("Art-Net\x00"), b[0:8])
	assert.Equal(t, []byte{0x00, 0x50}, b[8:10], "opcode little-endian")
	assert.Equal(t, []byte{0x00, 0x0E}, b[10:12], "protocol version 14")
	assert.Equal(t, byte(7), b[12])
	assert.Equal(t, byte(0), b[13])
	assert.Equal(t, byte(0x34), b[14], "sub-uni")
	assert.Equal(t, byte(0x12), b[15], "net")
	assert.Equal(t, []byte{0x00, 0x04}, b[16:18], "length padded to even")
	assert.Equal(t, []byte{1, 2, 3, 0}, b[18:])
}

func TestPacketDecodeRejectsGarbage(t *testing.T) {
	var p DMXPacket
	assert.Error(t, p.UnmarshalBinary([]byte("short")))
	assert.Error(t, p.UnmarshalBinary(append([]byte("Art-Net\x00\x00\x21"), make([]byte, 8)...)))

	_, err := DMXPacket{Universe: MaxUniverse + 1}.MarshalBinary()
	assert.Error(t, err)
	_, err = DMXPacket{Data: make([]byte, MaxChannels+1)}.MarshalBinary()
	assert.Error(t, err)
}

func TestColourChannelsAreIndependent(t *testing.T) {
	e := newTestEncoder(t)

	msg, err := encode(e, lightRef("values"), lightMeta(1), map[string]any{"r": 10.0, "g": 20.0, "b": 30.0, "w": 40.0})
	require.NoError(t, err)

	state, ok := e.State(1)
	require.True(t, ok)
	assert.Equal(t, LightState{R: 10, G: 20, B: 30, W: 40, Dim: 100, On: true}, state)

	p := decodePacket(t, msg)
	assert.Equal(t, uint16(0), p.Universe)
	// Light 1 (1 LED) then light 2 (2 LEDs, still dark).
	assert.Equal(t, []byte{10, 20, 30, 40, 0, 0, 0, 0, 0, 0, 0, 0}, p.Data)
}

func TestDimScalesChannels(t *testing.T) {
	e := newTestEncoder(t)

	_, err := encode(e, lightRef("Values"), lightMeta(2), `{"r":200,"g":100,"b":50,"w":255}`)
	require.NoError(t, err)
	msg, err := encode(e, lightRef("Dim"), lightMeta(2), 50)
	require.NoError(t, err)

	p := decodePacket(t, msg)
	assert.Equal(t, []byte{0, 0, 0, 0, 100, 50, 25, 127, 100, 50, 25, 127}, p.Data)

	_, err = encode(e, lightRef("dim"), lightMeta(2), 250)
	require.NoError(t, err)
	state, _ := e.State(2)
	assert.Equal(t, 100, state.Dim, "dim is clamped")
}

func TestSwitchOffKeepsColours(t *testing.T) {
	e := newTestEncoder(t)
	ref := lightRef("switch")

	_, err := encode(e, lightRef("values"), lightMeta(3), map[string]any{"r": 1, "g": 2, "b": 3, "w": 4})
	require.NoError(t, err)

	off, err := encode(e, ref, lightMeta(3), false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, decodePacket(t, off).Data)

	on, err := encode(e, ref, lightMeta(3), "true")
	require.NoError(t, err)
	p := decodePacket(t, on)
	assert.Equal(t, uint16(1), p.Universe)
	assert.Equal(t, []byte{1, 2, 3, 4}, p.Data)
}

func TestSequenceAdvancesPerUniverse(t *testing.T) {
	e := newTestEncoder(t)

	first, err := encode(e, lightRef("dim"), lightMeta(1), 10)
	require.NoError(t, err)
	second, err := encode(e, lightRef("dim"), lightMeta(2), 10)
	require.NoError(t, err)
	other, err := encode(e, lightRef("dim"), lightMeta(3), 10)
	require.NoError(t, err)

	assert.Equal(t, uint8(1), decodePacket(t, first).Sequence)
	assert.Equal(t, uint8(2), decodePacket(t, second).Sequence)
	assert.Equal(t, uint8(1), decodePacket(t, other).Sequence)
	assert.Equal(t, uint8(1), nextSequence(255))
}

func TestEncodeWriteErrors(t *testing.T) {
	e := newTestEncoder(t)

	tests := []struct {
		name  string
		ref   protocol.AttributeRef
		meta  protocol.LinkMeta
		value any
		want  error
	}{
		{"no light id", lightRef("dim"), protocol.LinkMeta{}, 1, ErrNoLightID},
		{"unknown light", lightRef("dim"), lightMeta(99), 1, ErrUnknownLight},
		{"unknown attribute", lightRef("hue"), lightMeta(1), 1, ErrUnsupportedAttribute},
		{"dim not a number", lightRef("dim"), lightMeta(1), "bright", ErrInvalidValue},
		{"values not an object", lightRef("values"), lightMeta(1), 12, ErrInvalidValue},
		{"values bad json", lightRef("values"), lightMeta(1), "{", ErrInvalidValue},
		{"values bad channel", lightRef("values"), lightMeta(1), map[string]any{"r": "red"}, ErrInvalidValue},
		{"switch not a bool", lightRef("switch"), lightMeta(1), "maybe", ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := encode(e, tt.ref, tt.meta, tt.value)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	state, _ := e.State(1)
	assert.Equal(t, defaultState(), state, "failed writes leave the state untouched")
}

func TestFailedSendLeavesStateUntouched(t *testing.T) {
	e := newTestEncoder(t)
	_, err := encode(e, lightRef("dim"), lightMeta(1), 40)
	require.NoError(t, err)

	sendErr := errors.New("not connected")
	err = e.EncodeWrite(lightRef("values"), lightMeta(1), map[string]any{"r": 255}, func(string) error { return sendErr })
	assert.True(t, errors.Is(err, sendErr))

	state, _ := e.State(1)
	assert.Equal(t, LightState{Dim: 40, On: true}, state)

	msg, err := encode(e, lightRef("switch"), lightMeta(1), true)
	require.NoError(t, err)
	p := decodePacket(t, msg)
	assert.Equal(t, uint8(2), p.Sequence, "failed send does not consume a sequence number")
	assert.Equal(t, byte(0), p.Data[0], "red was never applied")
}

func TestForgetResetsUnusedLight(t *testing.T) {
	e := newTestEncoder(t)
	values := lightRef("values")
	dim := lightRef("dim")

	_, err := encode(e, values, lightMeta(1), map[string]any{"r": 9})
	require.NoError(t, err)
	_, err = encode(e, dim, lightMeta(1), 20)
	require.NoError(t, err)

	e.Forget(values)
	state, _ := e.State(1)
	assert.Equal(t, uint8(9), state.R, "still referenced by dim")

	e.Forget(dim)
	state, _ = e.State(1)
	assert.Equal(t, defaultState(), state)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		lights []Light
		ok     bool
	}{
		{"empty", nil, true},
		{"valid", []Light{{ID: 1, LEDs: 3}, {ID: 2, Universe: 5, LEDs: 1}}, true},
		{"duplicate id", []Light{{ID: 1, LEDs: 1}, {ID: 1, LEDs: 1}}, false},
		{"no leds", []Light{{ID: 1}}, false},
		{"universe range", []Light{{ID: 1, Universe: MaxUniverse + 1, LEDs: 1}}, false},
		{"channel budget", []Light{{ID: 1, LEDs: 100}, {ID: 2, LEDs: 29}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Lights: tt.lights}.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
