package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringPredicate(t *testing.T) {
	tests := []struct {
		name string
		p    StringPredicate
		msg  string
		want bool
	}{
		{"equals default", StringPredicate{Value: "OK"}, "ok", true},
		{"equals case sensitive", StringPredicate{Match: MatchEquals, Value: "OK", CaseSensitive: true}, "ok", false},
		{"begins", StringPredicate{Match: MatchBegins, Value: "TEMP"}, "temp=21", true},
		{"ends", StringPredicate{Match: MatchEnds, Value: ";"}, "A=1;", true},
		{"contains", StringPredicate{Match: MatchContains, Value: "err"}, "E: ERROR 5", true},
		{"contains miss", StringPredicate{Match: MatchContains, Value: "err"}, "ok", false},
		{"regex", StringPredicate{Match: MatchRegex, Value: `^PWR=\d$`}, "pwr=1", true},
		{"regex case sensitive", StringPredicate{Match: MatchRegex, Value: `^PWR`, CaseSensitive: true}, "pwr=1", false},
		{"negate", StringPredicate{Match: MatchBegins, Value: "X", Negate: true}, "Y1", true},
		{"negate match", StringPredicate{Match: MatchBegins, Value: "X", Negate: true}, "X1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.p.Compile())
			assert.Equal(t, tt.want, tt.p.Matches(tt.msg))
		})
	}
}

func TestStringPredicateCompileErrors(t *testing.T) {
	bad := []StringPredicate{
		{Match: MatchRegex, Value: "("},
		{Match: "startswith", Value: "x"},
	}
	for _, p := range bad {
		err := p.Compile()
		assert.True(t, errors.Is(err, ErrConfiguration), "%+v", p)
	}
}

func TestValueFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters []ValueFilter
		msg     string
		want    any
	}{
		{
			name:    "regex group",
			filters: []ValueFilter{{Kind: FilterRegex, Pattern: `T=(\d+\.\d)`, MatchGroup: 1}},
			msg:     "S1 T=21.5 H=40",
			want:    "21.5",
		},
		{
			name:    "regex second match",
			filters: []ValueFilter{{Kind: FilterRegex, Pattern: `\d+`, MatchIndex: 1}},
			msg:     "a1 b22 c333",
			want:    "22",
		},
		{
			name:    "regex miss",
			filters: []ValueFilter{{Kind: FilterRegex, Pattern: `T=(\d+)`, MatchGroup: 1}},
			msg:     "H=40",
			want:    nil,
		},
		{
			name:    "substring",
			filters: []ValueFilter{{Kind: FilterSubstring, Begin: 4, End: 6}},
			msg:     "PWR=ON;",
			want:    "ON",
		},
		{
			name:    "substring to end",
			filters: []ValueFilter{{Kind: FilterSubstring, Begin: 4}},
			msg:     "PWR=OFF",
			want:    "OFF",
		},
		{
			name:    "substring counts characters",
			filters: []ValueFilter{{Kind: FilterSubstring, Begin: 6, End: 10}},
			msg:     "Temp: 21°C",
			want:    "21°C",
		},
		{
			name:    "substring multi-byte prefix",
			filters: []ValueFilter{{Kind: FilterSubstring, Begin: 2, End: 4}},
			msg:     "€€42",
			want:    "42",
		},
		{
			name:    "substring past end",
			filters: []ValueFilter{{Kind: FilterSubstring, Begin: 10}},
			msg:     "short",
			want:    nil,
		},
		{
			name: "chained",
			filters: []ValueFilter{
				{Kind: FilterRegex, Pattern: `VOL\((\d+)\)`, MatchGroup: 1},
				{Kind: FilterSubstring, Begin: 1},
			},
			msg:  "VOL(042)",
			want: "42",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := LinkMeta{ValueFilters: tt.filters}
			require.NoError(t, validateMeta(meta))
			assert.Equal(t, tt.want, inboundValue(meta, tt.msg))
		})
	}
}

func TestMessageMatchFilters(t *testing.T) {
	meta := LinkMeta{
		MessageMatch: &StringPredicate{Match: MatchEquals, Value: "PWR"},
		MessageMatchFilters: []ValueFilter{
			{Kind: FilterRegex, Pattern: `^@\d+ (\w+)=`, MatchGroup: 1},
		},
	}
	require.NoError(t, validateMeta(meta))
	match := messageMatcher(meta)
	require.NotNil(t, match)

	assert.True(t, match("@01 PWR=1"))
	assert.False(t, match("@01 VOL=1"))
	assert.False(t, match("PWR"), "a filter miss is no match")

	negated := LinkMeta{
		MessageMatch:        &StringPredicate{Match: MatchEquals, Value: "PWR", Negate: true},
		MessageMatchFilters: meta.MessageMatchFilters,
	}
	assert.False(t, messageMatcher(negated)("PWR"), "a filter miss is no match even when negated")
	assert.True(t, messageMatcher(negated)("@01 VOL=1"))

	assert.Nil(t, messageMatcher(LinkMeta{MessageMatchFilters: meta.MessageMatchFilters}))

	bad := LinkMeta{
		MessageMatch:        &StringPredicate{Value: "x"},
		MessageMatchFilters: []ValueFilter{{Kind: FilterRegex, Pattern: "("}},
	}
	assert.True(t, errors.Is(validateMeta(bad), ErrConfiguration))
}

func TestInboundValueConverter(t *testing.T) {
	meta := LinkMeta{
		ValueFilters:   []ValueFilter{{Kind: FilterSubstring, Begin: 4}},
		ValueConverter: map[string]any{"on": true, "OFF": false},
	}

	assert.Equal(t, true, inboundValue(meta, "PWR=ON"))
	assert.Equal(t, false, inboundValue(meta, "PWR=off"))
	assert.Equal(t, "STANDBY", inboundValue(meta, "PWR=STANDBY"))
}

func TestOutboundMessage(t *testing.T) {
	tests := []struct {
		name  string
		meta  LinkMeta
		value any
		want  string
	}{
		{"no template", LinkMeta{}, 42, "42"},
		{"placeholder", LinkMeta{WriteValue: "VOL {$value}\r"}, 12, "VOL 12\r"},
		{"placeholder twice", LinkMeta{WriteValue: "{$value}/{$value}"}, "a", "a/a"},
		{"static template", LinkMeta{WriteValue: "PWR ON"}, true, "PWR ON"},
		{"float", LinkMeta{WriteValue: "SET {$value}"}, 21.5, "SET 21.5"},
		{"map value", LinkMeta{}, map[string]any{"r": 1}, `{"r":1}`},
		{"nil value", LinkMeta{WriteValue: "X{$value}"}, nil, "X"},
		{
			"write converter",
			LinkMeta{WriteValue: "PWR {$value}", WriteValueConverter: map[string]any{"TRUE": "ON", "false": "OFF"}},
			true,
			"PWR ON",
		},
		{
			"write converter miss",
			LinkMeta{WriteValue: "PWR {$value}", WriteValueConverter: map[string]any{"true": "ON"}},
			"STANDBY",
			"PWR STANDBY",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outboundMessage(tt.meta, tt.value))
		})
	}
}

func TestValidateMeta(t *testing.T) {
	tests := []struct {
		name    string
		meta    LinkMeta
		wantErr bool
	}{
		{"empty", LinkMeta{}, false},
		{"polling at minimum", LinkMeta{PollingInterval: MinPollingInterval, WriteValue: "Q?"}, false},
		{"polling below minimum", LinkMeta{PollingInterval: 999 * time.Millisecond, WriteValue: "Q?"}, true},
		{"polling without write value", LinkMeta{PollingInterval: 5 * time.Second}, true},
		{"negative timeout", LinkMeta{ResponseTimeout: -time.Second}, true},
		{"negative retries", LinkMeta{SendRetries: intPtr(-1)}, true},
		{"bad predicate", LinkMeta{MessageMatch: &StringPredicate{Match: MatchRegex, Value: "["}}, true},
		{"bad filter", LinkMeta{ValueFilters: []ValueFilter{{Kind: "xpath"}}}, true},
		{"bad substring", LinkMeta{ValueFilters: []ValueFilter{{Kind: FilterSubstring, Begin: 5, End: 2}}}, true},
		{"bad match group", LinkMeta{ValueFilters: []ValueFilter{{Kind: FilterRegex, Pattern: `a`, MatchGroup: 1}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMeta(tt.meta)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolvePolicy(t *testing.T) {
	assert.Equal(t, Policy{ResponseTimeout: DefaultResponseTimeout, Retries: DefaultSendRetries},
		resolvePolicy(ProtocolConfiguration{}, LinkMeta{}))

	cfg := ProtocolConfiguration{ResponseTimeout: 500 * time.Millisecond, SendRetries: intPtr(3)}
	assert.Equal(t, Policy{ResponseTimeout: 500 * time.Millisecond, Retries: 3},
		resolvePolicy(cfg, LinkMeta{}))

	meta := LinkMeta{ResponseTimeout: 2 * time.Second, SendRetries: intPtr(0)}
	assert.Equal(t, Policy{ResponseTimeout: 2 * time.Second, Retries: 0},
		resolvePolicy(cfg, meta))
}

func TestAttributeRef(t *testing.T) {
	assert.Equal(t, "lamp-1:power", refLamp.String())
	assert.NoError(t, refLamp.Validate())
	assert.True(t, errors.Is(AttributeRef{AssetID: "x"}.Validate(), ErrConfiguration))
}
