package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[00:01:23] 250.52 Mk/s [GPU 250.52 Mk/s]", 250.52, true},
		{"GPU: 150 MK/s", 150, true},
		{"cpu fallback 1500 k/s", 1.5, true},
		{"1.2 Gk/s theoretical", 1200, true},
		{"no speed on this line", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseSpeed(tt.line)
		assert.Equal(t, tt.ok, ok, "line %q", tt.line)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "line %q", tt.line)
		}
	}
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want uint64
		ok   bool
	}{
		{"T: 1,234,567", 1234567, true},
		{"count T: 42 done", 42, true},
		{"T:987", 987, true},
		{"total 123456", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseProgress(tt.line)
		assert.Equal(t, tt.ok, ok, "line %q", tt.line)
		assert.Equal(t, tt.want, got, "line %q", tt.line)
	}
}

func TestFoundMarkers(t *testing.T) {
	assert.True(t, IsFoundMarker("PubAddress: 1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU"))
	assert.True(t, IsFoundMarker("Priv (WIF): p2pkh:KwDiBf89..."))
	assert.True(t, IsFoundMarker("BTC Privatekey: 0x0000000000000000000000000000000000000000000000000000000000000001"))
	assert.False(t, IsFoundMarker("scanning block 40000003000000000"))
	assert.False(t, IsFoundMarker(""))
}

func TestErrorMarkers(t *testing.T) {
	assert.True(t, IsErrorMarker("Wrong args, see --help"))
	assert.True(t, IsErrorMarker("CUDA ERROR 2: out of memory"))
	assert.True(t, IsErrorMarker("Error: no compatible device"))
	assert.False(t, IsErrorMarker("T: 1,000"))
	assert.False(t, IsErrorMarker(""))
}
