package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunFor_TicksForDuration tests the timed loop primitive
func TestRunFor_TicksForDuration(t *testing.T) {
	ticks := 0

	err := RunFor(context.Background(), 50*time.Millisecond, 5*time.Millisecond, func() error {
		ticks++
		return nil
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, ticks, 3)
	assert.LessOrEqual(t, ticks, 11)
}

// TestRunFor_ZeroDuration tests that nothing runs for a zero duration
func TestRunFor_ZeroDuration(t *testing.T) {
	ticks := 0

	err := RunFor(context.Background(), 0, time.Millisecond, func() error {
		ticks++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, ticks)
}

// TestRunFor_TickError tests that the first error aborts the loop
func TestRunFor_TickError(t *testing.T) {
	boom := errors.New("boom")
	ticks := 0

	err := RunFor(context.Background(), time.Second, time.Millisecond, func() error {
		ticks++
		if ticks == 2 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ticks)
}

// TestRunFor_Canceled tests cancellation
func TestRunFor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunFor(ctx, time.Minute, time.Millisecond, func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func newTestSequencer(t *testing.T, fake *fakeHardware) (*Sequencer, *Actuator, *Actuator, *Drive) {
	t.Helper()
	arm := newTestActuator(t, testArmConfig(), fake)
	claw := newTestActuator(t, testClawConfig(), fake)
	drive := NewDrive(DriveConfig{Northeast: 10, Northwest: 11, Southeast: 12, Southwest: 13}, fake.hardware(), nil)
	return NewSequencer([]*Actuator{arm, claw}, drive, time.Millisecond, nil), arm, claw, drive
}

// TestSequencer_Run tests a scripted routine end to end
func TestSequencer_Run(t *testing.T) {
	// Arrange
	fake := newFakeHardware()
	seq, arm, claw, drive := newTestSequencer(t, fake)
	routine := RoutineConfig{
		Name: "test",
		Steps: []StepConfig{
			{Actions: []ActionConfig{
				{Actuator: "arm", Unlock: true},
				{Actuator: DriveName, Unlock: true},
			}},
			{Duration: 5 * time.Millisecond, Actions: []ActionConfig{
				{Actuator: "arm", Move: intPtr(-90), Immediate: true},
				{Actuator: DriveName, Drive: &DriveAction{Y: 100}, Immediate: true},
			}},
			{Duration: 5 * time.Millisecond, Actions: []ActionConfig{
				{Actuator: "claw", Lock: "open"},
			}},
		},
	}

	// Act
	err := seq.Run(context.Background(), routine)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, -90, fake.motor(1))
	assert.Equal(t, -90, fake.motor(2))
	assert.Equal(t, MapSpeed(100), fake.motor(10))
	assert.False(t, arm.Locked())
	assert.False(t, drive.Locked())
	assert.True(t, claw.Locked())
	assert.Equal(t, "open", claw.Position())
}

// TestSequencer_StopStep tests that a stop step zeroes every motor
func TestSequencer_StopStep(t *testing.T) {
	fake := newFakeHardware()
	seq, _, _, _ := newTestSequencer(t, fake)
	routine := RoutineConfig{
		Name: "stop",
		Steps: []StepConfig{
			{Actions: []ActionConfig{{Actuator: "arm", Move: intPtr(127), Immediate: true}}},
			{Duration: 3 * time.Millisecond, Stop: true},
		},
	}

	require.NoError(t, seq.Run(context.Background(), routine))

	for _, port := range []int{1, 2, 3, 4, 10, 11, 12, 13} {
		assert.Equal(t, 0, fake.motor(port), "port %d", port)
	}
}

// TestSequencer_LockVariants tests current and manual locks
func TestSequencer_LockVariants(t *testing.T) {
	fake := newFakeHardware()
	fake.setAnalog(1, 2222)
	seq, arm, _, _ := newTestSequencer(t, fake)
	arm.Unlock()

	require.NoError(t, seq.apply(ActionConfig{Actuator: "arm", Lock: LockCurrentName}))
	assert.True(t, arm.Locked())
	assert.Equal(t, []float64{2222}, arm.Targets())

	arm.Unlock()
	require.NoError(t, seq.apply(ActionConfig{Actuator: "arm", Lock: LockManualName}))
	assert.True(t, arm.Locked())
}

// TestSequencer_Errors tests that failures abort the routine with context
func TestSequencer_Errors(t *testing.T) {
	fake := newFakeHardware()
	seq, _, _, _ := newTestSequencer(t, fake)

	err := seq.Run(context.Background(), RoutineConfig{
		Name:  "bad",
		Steps: []StepConfig{{Actions: []ActionConfig{{Actuator: "arm", Lock: "sideways"}}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routine bad step 0")

	err = seq.apply(ActionConfig{Actuator: "wrist"})
	assert.Error(t, err)
}
