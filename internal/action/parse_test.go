package action

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sacngen/internal/preset"
)

func TestParse(t *testing.T) {
	dst := netip.MustParseAddr("192.168.0.10")
	tests := []struct {
		line string
		want Action
	}{
		{"", Ignore{}},
		{"   ", Ignore{}},
		{"# comment d 1 1 1", Ignore{}},
		{"d 1 1 255 0 10", SendData{Universe: 1, Address: 1, Values: []byte{255, 0, 10}}},
		{"data 63999 512 7", SendData{Universe: 63999, Address: 512, Values: []byte{7}}},
		{"a 1 1 255", SendAllData{Universe: 1, Span: 1, Value: 255}},
		{"all 2 512 0", SendAllData{Universe: 2, Span: 512, Value: 0}},
		{"f 3 1 2 3", SendFullData{Universe: 3, Values: []byte{1, 2, 3}}},
		{"full 3", SendFullData{Universe: 3, Values: []byte{}}},
		{"s 1 2s 128 64", SendDataOverTime{Universe: 1, Duration: 2 * time.Second, Values: []byte{128, 64}}},
		{"over 1 1500 1", SendDataOverTime{Universe: 1, Duration: 1500 * time.Millisecond, Values: []byte{1}}},
		{"r 5", Register{Universe: 5}},
		{"REGISTER 5", Register{Universe: 5}},
		{"u 192.168.0.10 1 3 9", Unicast{Dst: dst, Universe: 1, Address: 3, Values: []byte{9}}},
		{"us 192.168.0.10 64", UnicastSync{Dst: dst, Sync: 64}},
		{"unicast_sync ::ffff:192.168.0.10 64", UnicastSync{Dst: dst, Sync: 64}},
		{"y 64", Sync{Sync: 64}},
		{"w 250ms", Sleep{Duration: 250 * time.Millisecond}},
		{"sleep 0", Sleep{}},
		{"p", Preview{}},
		{"x", Terminate{}},
		{"terminate 2", Terminate{Universe: 2}},
		{"t 7", RunTestPreset{ID: preset.MovingChannels}},
		{"test 2 192.168.0.10", RunTestPreset{ID: preset.TwoUniverseUnicast, Dst: dst}},
		{"  d\t1 1 1  ", SendData{Universe: 1, Address: 1, Values: []byte{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		line  string
		token string
	}{
		{"zap 1", "zap"},
		{"d 0 1 1", "0"},
		{"d 64000 1 1", "64000"},
		{"d 1 0 5", "0"},
		{"d 1 513 5", "513"},
		{"d 1 1 256", "256"},
		{"d 1 1 -1", "-1"},
		{"d 1 1", ""},
		{"a 1 513 1", "513"},
		{"a 1 1", ""},
		{"s 1 0 1", "0"},
		{"s 1 soon 1", "soon"},
		{"w -5s", "-5s"},
		{"u 1 2 3 4", "1"},
		{"u fe80::1 1 1 1", "fe80::1"},
		{"p 1", "1"},
		{"x 1 2", "2"},
		{"t", ""},
		{"t 0", "0"},
		{"t 1 nowhere", "nowhere"},
		{"r", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(12, tt.line)
			assert.Nil(t, got)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, 12, perr.Line)
			assert.Equal(t, tt.token, perr.Token)
			assert.Contains(t, err.Error(), "line 12")
		})
	}
}

func TestUnknownTokenListsCommands(t *testing.T) {
	_, err := Parse("bogus")
	require.Error(t, err)
	for _, tok := range []string{"d", "data", "us", "unicast_sync", "t", "test"} {
		assert.Contains(t, err.Error(), " "+tok)
	}
}

func TestName(t *testing.T) {
	for _, tok := range Tokens() {
		a, err := Parse(argsFor(tok))
		require.NoError(t, err, tok)
		assert.NotEqual(t, "unknown", Name(a), tok)
	}
}

func argsFor(tok string) string {
	switch tok {
	case "d", "data":
		return tok + " 1 1 1"
	case "a", "all":
		return tok + " 1 1 1"
	case "f", "full", "r", "register", "y", "sync", "t", "test", "w", "sleep":
		return tok + " 1"
	case "s", "over":
		return tok + " 1 1s 1"
	case "u", "unicast":
		return tok + " 10.0.0.1 1 1 1"
	case "us", "unicast_sync":
		return tok + " 10.0.0.1 1"
	}
	return tok
}
