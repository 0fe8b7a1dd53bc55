package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// TestMapSpeed_BoundedAndSignPreserving sweeps well past the motor range
func TestMapSpeed_BoundedAndSignPreserving(t *testing.T) {
	for raw := -200; raw <= 200; raw++ {
		out := MapSpeed(raw)

		assert.GreaterOrEqual(t, out, -MaxCommand, "raw=%d", raw)
		assert.LessOrEqual(t, out, MaxCommand, "raw=%d", raw)
		// Stick noise below 11 maps to 0, so sign is only checked on motion
		if out != 0 {
			assert.Equal(t, sign(clampCommand(raw)), sign(out), "raw=%d", raw)
		}
	}
	assert.Equal(t, 0, MapSpeed(0))
}

// TestMapSpeed_Symmetric checks that negative inputs mirror positive ones
func TestMapSpeed_Symmetric(t *testing.T) {
	for raw := 0; raw <= 150; raw++ {
		assert.Equal(t, -MapSpeed(raw), MapSpeed(-raw), "raw=%d", raw)
	}
}

// TestSpeedCurve_Monotonic checks the table invariant
func TestSpeedCurve_Monotonic(t *testing.T) {
	assert.Equal(t, 0, speedCurve[0])
	for i := 1; i < len(speedCurve); i++ {
		assert.GreaterOrEqual(t, speedCurve[i], speedCurve[i-1], "index %d", i)
	}
}

// TestMapSpeed_Saturation tests that anything past the table saturates
func TestMapSpeed_Saturation(t *testing.T) {
	assert.Equal(t, 127, MapSpeed(127))
	assert.Equal(t, 127, MapSpeed(500))
	assert.Equal(t, -127, MapSpeed(-500))
	assert.Equal(t, 127, MapSpeed(125))
}

// TestMapSpeed_LowEndBias tests the minimum effective duty cycle
func TestMapSpeed_LowEndBias(t *testing.T) {
	assert.Equal(t, 0, MapSpeed(10), "stick noise is ignored")
	assert.Equal(t, 21, MapSpeed(11))
	assert.Equal(t, -21, MapSpeed(-11))
}

func TestApplyDeadband(t *testing.T) {
	assert.Equal(t, 0, applyDeadband(20, 20))
	assert.Equal(t, 0, applyDeadband(-15, 20))
	assert.Equal(t, 21, applyDeadband(21, 20))
	assert.Equal(t, -40, applyDeadband(-40, 20))
	assert.Equal(t, 3, applyDeadband(3, 0), "zero limit disables the deadband")
}
