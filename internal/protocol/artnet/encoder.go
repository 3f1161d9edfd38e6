// Package artnet drives RGBW DMX lights over Art-Net.
//
// The Encoder keeps the state of every light in its table and renders a
// full ArtDMX packet for a light's universe on each write. Packets are
// sent hex-encoded so they travel through a hex codec on a UDP
// connection (normally port 6454). A write whose packet cannot be sent
// leaves the light state unchanged.
//
// Each LED takes four channels (R, G, B, W). Channel values are the colour
// scaled by the light's dim level (0..100); a switched-off light emits
// zeros but keeps its colours for when it is switched back on.
//
// Supported attribute names (case-insensitive):
//
//	dim     number 0..100
//	values  object {"r":..,"g":..,"b":..,"w":..}, 0..255 each
//	switch  bool
package artnet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
)

// Attribute names handled by the encoder.
const (
	AttributeDim    = "dim"
	AttributeValues = "values"
	AttributeSwitch = "switch"
)

// channelsPerLED is R, G, B, W.
const channelsPerLED = 4

// Domain errors for the artnet package.
var (
	ErrNoLightID            = errors.New("artnet: link has no light id")
	ErrUnknownLight         = errors.New("artnet: unknown light")
	ErrUnsupportedAttribute = errors.New("artnet: unsupported attribute")
	ErrInvalidValue         = errors.New("artnet: invalid value")
)

// Light is one entry of the light table.
type Light struct {
	ID       int `yaml:"id" toml:"id" json:"id"`
	Universe int `yaml:"universe" toml:"universe" json:"universe"`
	LEDs     int `yaml:"leds" toml:"leds" json:"leds"`
}

// Config is the light table of one Art-Net node.
type Config struct {
	Lights []Light `yaml:"lights" toml:"lights" json:"lights"`
}

// Validate checks IDs, universes and channel budgets.
func (c Config) Validate() error {
	seen := make(map[int]bool, len(c.Lights))
	channels := make(map[int]int)
	for _, l := range c.Lights {
		if seen[l.ID] {
			return fmt.Errorf("artnet: duplicate light id %d", l.ID)
		}
		seen[l.ID] = true
		if l.Universe < 0 || l.Universe > MaxUniverse {
			return fmt.Errorf("artnet: light %d: universe %d out of range", l.ID, l.Universe)
		}
		if l.LEDs < 1 {
			return fmt.Errorf("artnet: light %d: leds must be positive", l.ID)
		}
		channels[l.Universe] += l.LEDs * channelsPerLED
		if channels[l.Universe] > MaxChannels {
			return fmt.Errorf("artnet: universe %d exceeds %d channels", l.Universe, MaxChannels)
		}
	}
	return nil
}

// LightState is the last commanded state of a light.
type LightState struct {
	R, G, B, W uint8
	Dim        int
	On         bool
}

// defaultState is full brightness, switched on, all channels dark.
func defaultState() LightState {
	return LightState{Dim: 100, On: true}
}

// channel returns a colour scaled by the dim level.
func (s LightState) channel(c uint8) byte {
	if !s.On {
		return 0
	}
	return byte(int(c) * s.Dim / 100)
}

// Encoder implements protocol.DeviceEncoder for Art-Net lights.
//
// Thread Safety: all methods are safe for concurrent use.
type Encoder struct {
	mu     sync.Mutex
	lights []Light
	byID   map[int]int // light id -> index into lights
	states map[int]*LightState
	users  map[int]map[protocol.AttributeRef]struct{}
	seq    map[int]uint8 // universe -> last sequence
}

var _ protocol.DeviceEncoder = (*Encoder)(nil)

// NewEncoder creates an encoder for the light table.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{
		lights: append([]Light(nil), cfg.Lights...),
		byID:   make(map[int]int, len(cfg.Lights)),
		states: make(map[int]*LightState, len(cfg.Lights)),
		users:  make(map[int]map[protocol.AttributeRef]struct{}),
		seq:    make(map[int]uint8),
	}
	for i, l := range e.lights {
		e.byID[l.ID] = i
		s := defaultState()
		e.states[l.ID] = &s
	}
	return e, nil
}

// EncodeWrite applies value to the light addressed by meta.LightID and
// sends the hex-encoded ArtDMX packet for the light's universe. The light
// state and the universe sequence change only when send succeeds.
func (e *Encoder) EncodeWrite(ref protocol.AttributeRef, meta protocol.LinkMeta, value any, send protocol.SendFunc) error {
	if meta.LightID == nil {
		return fmt.Errorf("%w: %s", ErrNoLightID, ref)
	}
	id := *meta.LightID

	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLight, id)
	}

	next := *e.states[id]
	switch strings.ToLower(ref.Name) {
	case AttributeDim:
		dim, err := toNumber(value)
		if err != nil {
			return err
		}
		next.Dim = clamp(int(math.Floor(dim)), 0, 100)
	case AttributeValues:
		if err := applyColours(&next, value); err != nil {
			return err
		}
	case AttributeSwitch:
		on, err := toBool(value)
		if err != nil {
			return err
		}
		next.On = on
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAttribute, ref.Name)
	}

	universe := e.lights[idx].Universe
	seq := nextSequence(e.seq[universe])
	pkt := DMXPacket{
		Sequence: seq,
		Universe: uint16(universe),
		Data:     e.universeData(universe, id, next),
	}
	b, err := pkt.MarshalBinary()
	if err != nil {
		return err
	}
	if err := send(strings.ToUpper(hex.EncodeToString(b))); err != nil {
		return err
	}

	*e.states[id] = next
	e.seq[universe] = seq
	if e.users[id] == nil {
		e.users[id] = make(map[protocol.AttributeRef]struct{})
	}
	e.users[id][ref] = struct{}{}
	return nil
}

// Forget drops ref. A light no attribute refers to any more returns to
// its default state.
func (e *Encoder) Forget(ref protocol.AttributeRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, refs := range e.users {
		if _, ok := refs[ref]; !ok {
			continue
		}
		delete(refs, ref)
		if len(refs) == 0 {
			delete(e.users, id)
			s := defaultState()
			e.states[id] = &s
		}
	}
}

// State returns the current state of a light.
func (e *Encoder) State(id int) (LightState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[id]
	if !ok {
		return LightState{}, false
	}
	return *s, true
}

// universeData renders every light of a universe in table order, with
// override in place of the stored state of light id.
func (e *Encoder) universeData(universe, id int, override LightState) []byte {
	var data []byte
	for _, l := range e.lights {
		if l.Universe != universe {
			continue
		}
		s := *e.states[l.ID]
		if l.ID == id {
			s = override
		}
		for n := 0; n < l.LEDs; n++ {
			data = append(data, s.channel(s.R), s.channel(s.G), s.channel(s.B), s.channel(s.W))
		}
	}
	return data
}

// nextSequence skips 0, which disables sequencing on receivers.
func nextSequence(s uint8) uint8 {
	s++
	if s == 0 {
		s = 1
	}
	return s
}

func applyColours(s *LightState, value any) error {
	var m map[string]any
	switch v := value.(type) {
	case map[string]any:
		m = v
	case string:
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return fmt.Errorf("%w: colour values: %w", ErrInvalidValue, err)
		}
	case []byte:
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("%w: colour values: %w", ErrInvalidValue, err)
		}
	default:
		return fmt.Errorf("%w: colour values must be an object, got %T", ErrInvalidValue, value)
	}

	channels := []struct {
		key string
		dst *uint8
	}{
		{"r", &s.R}, {"g", &s.G}, {"b", &s.B}, {"w", &s.W},
	}
	for _, ch := range channels {
		raw, ok := m[ch.key]
		if !ok {
			continue
		}
		n, err := toNumber(raw)
		if err != nil {
			return fmt.Errorf("%w: channel %s", err, ch.key)
		}
		*ch.dst = uint8(clamp(int(math.Round(n)), 0, 255))
	}
	return nil
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrInvalidValue, v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a bool", ErrInvalidValue, b)
		}
		return p, nil
	default:
		n, err := toNumber(v)
		if err != nil {
			return false, fmt.Errorf("%w: %T is not a bool", ErrInvalidValue, v)
		}
		return n != 0, nil
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
