package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStictionBoost_Shape tests the multiplier and immediate flag
func TestStictionBoost_Shape(t *testing.T) {
	s := StictionBoost{Position: "down", Threshold: 50, Gain: 100}

	tests := []struct {
		name      string
		raw, err  float64
		position  string
		want      float64
		immediate bool
	}{
		{"boosted when far from down", -1.5, -60, "down", -150, true},
		{"inside threshold", -1.5, -40, "down", -1.5, false},
		{"other position", -1.5, -600, "up", -1.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, immediate := s.Shape(tt.raw, tt.err, tt.position)
			assert.InDelta(t, tt.want, out, 1e-9)
			assert.Equal(t, tt.immediate, immediate)
		})
	}
}

// TestErrorBandScale_Shape tests the far and near bands
func TestErrorBandScale_Shape(t *testing.T) {
	b := ErrorBandScale{Far: 500, FarGain: 10, Near: 100, NearDivisor: 5}

	out, immediate := b.Shape(20, 600, "")
	assert.InDelta(t, 200.0, out, 1e-9)
	assert.False(t, immediate)

	out, _ = b.Shape(20, -50, "")
	assert.InDelta(t, 4.0, out, 1e-9)

	out, _ = b.Shape(20, 300, "")
	assert.InDelta(t, 20.0, out, 1e-9)
}

// TestNewShaper tests shaper selection from configuration
func TestNewShaper(t *testing.T) {
	s, err := newShaper(ShapingConfig{Kind: ShapingStiction, Position: "down", Threshold: 50, Gain: 100})
	require.NoError(t, err)
	assert.IsType(t, StictionBoost{}, s)

	s, err = newShaper(ShapingConfig{Kind: ShapingBand})
	require.NoError(t, err)
	assert.IsType(t, ErrorBandScale{}, s)

	s, err = newShaper(ShapingConfig{})
	require.NoError(t, err)
	out, immediate := s.Shape(12, 1000, "down")
	assert.Equal(t, 12.0, out)
	assert.False(t, immediate)

	_, err = newShaper(ShapingConfig{Kind: "turbo"})
	assert.Error(t, err)
}
