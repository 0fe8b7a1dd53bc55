package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDriveConfig() DriveConfig {
	return DriveConfig{Northeast: 1, Northwest: 2, Southeast: 3, Southwest: 4, AxisX: "Ch4", AxisY: "Ch3"}
}

// TestDrive_DriveMove tests the X-drive wheel mixing
func TestDrive_DriveMove(t *testing.T) {
	tests := []struct {
		name   string
		x, y   int
		ne, nw int
	}{
		{"forward", 0, 100, MapSpeed(100), MapSpeed(100)},
		{"strafe right", 60, 0, MapSpeed(-60), MapSpeed(60)},
		{"diagonal saturates", 100, 100, 0, 127},
		{"stop", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			fake := newFakeHardware()
			drive := NewDrive(testDriveConfig(), fake.hardware(), nil)

			// Act
			require.NoError(t, drive.DriveMove(tt.x, tt.y, false))

			// Assert
			assert.Equal(t, tt.ne, fake.motor(1))
			assert.Equal(t, tt.nw, fake.motor(2))
			assert.Equal(t, tt.ne, fake.motor(3))
			assert.Equal(t, tt.nw, fake.motor(4))
		})
	}
}

// TestDrive_TickFollowsSticks tests operator driving while locked
func TestDrive_TickFollowsSticks(t *testing.T) {
	fake := newFakeHardware()
	fake.setAxis("Ch3", -80)
	drive := NewDrive(testDriveConfig(), fake.hardware(), nil)

	drive.Tick()

	assert.Equal(t, MapSpeed(-80), fake.motor(1))
	assert.Equal(t, MapSpeed(-80), fake.motor(4))
	assert.True(t, fake.lastWrite().Immediate)
	assert.Equal(t, []int{MapSpeed(-80), MapSpeed(-80), MapSpeed(-80), MapSpeed(-80)}, drive.Status().Commands)
}

// TestDrive_UnlockedIgnoresSticks tests that scripts own an unlocked drive
func TestDrive_UnlockedIgnoresSticks(t *testing.T) {
	fake := newFakeHardware()
	fake.setAxis("Ch3", 127)
	drive := NewDrive(testDriveConfig(), fake.hardware(), nil)

	drive.Unlock()
	drive.Tick()

	assert.Equal(t, 0, fake.writeCount())
	assert.False(t, drive.Locked())
	drive.Lock()
	assert.True(t, drive.Locked())
}

// TestDrive_WriteError tests error propagation from DriveMove
func TestDrive_WriteError(t *testing.T) {
	fake := newFakeHardware()
	fake.failErr = errors.New("bus off")
	drive := NewDrive(testDriveConfig(), fake.hardware(), nil)

	err := drive.Stop()

	require.Error(t, err)
	assert.ErrorIs(t, err, fake.failErr)
}

// TestDrive_ScriptedWriteFailuresZeroWheels tests that repeated failures from
// scripted moves trip the same fail-safe as operator ticks
func TestDrive_ScriptedWriteFailuresZeroWheels(t *testing.T) {
	// Arrange
	fake := newFakeHardware()
	drive := NewDrive(testDriveConfig(), fake.hardware(), nil)
	drive.Unlock()
	fake.failErr = errors.New("bus off")
	for i := 0; i < maxWriteFailures; i++ {
		require.Error(t, drive.DriveMove(0, 100, false))
	}
	fake.failErr = nil

	// Act
	require.NoError(t, drive.DriveMove(0, 100, false))

	// Assert - the first write after the failures is a forced stop
	for port := 1; port <= 4; port++ {
		assert.Equal(t, 0, fake.motor(port))
	}
	assert.True(t, fake.lastWrite().Immediate)

	// Act - a successful write clears the count
	require.NoError(t, drive.DriveMove(0, 100, false))

	// Assert
	for port := 1; port <= 4; port++ {
		assert.Equal(t, MapSpeed(100), fake.motor(port))
	}
}
