package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
)

type fakeTransmitter struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
}

func (f *fakeTransmitter) TransmitFrame(_ context.Context, frame can.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

// TestCANBus_SetMotor tests motor frame encoding
func TestCANBus_SetMotor(t *testing.T) {
	// Arrange
	tx := &fakeTransmitter{}
	bus := NewCANBus(tx, 0x200, 0x300)

	// Act
	require.NoError(t, bus.SetMotor(7, -90, true))
	require.NoError(t, bus.SetMotor(3, 500, false))

	// Assert
	require.Len(t, tx.frames, 2)
	port, cmd, immediate, ok := decodeMotorFrame(0x200, tx.frames[0])
	require.True(t, ok)
	assert.Equal(t, uint32(0x207), tx.frames[0].ID)
	assert.Equal(t, 7, port)
	assert.Equal(t, -90, cmd)
	assert.True(t, immediate)

	_, cmd, immediate, _ = decodeMotorFrame(0x200, tx.frames[1])
	assert.Equal(t, 127, cmd)
	assert.False(t, immediate)
}

// TestCANBus_SetMotorError tests transmit error wrapping
func TestCANBus_SetMotorError(t *testing.T) {
	tx := &fakeTransmitter{err: errors.New("no buffer space")}
	bus := NewCANBus(tx, 0x200, 0x300)

	err := bus.SetMotor(1, 10, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, tx.err)
	assert.Contains(t, err.Error(), "0x201")
}

// TestCANBus_HandleFrame tests the sensor snapshot
func TestCANBus_HandleFrame(t *testing.T) {
	bus := NewCANBus(&fakeTransmitter{}, 0x200, 0x300)

	bus.HandleFrame(can.Frame{ID: 0x302, Length: 2, Data: can.Data{0xA0, 0x0F}})
	bus.HandleFrame(can.Frame{ID: 0x205, Length: 2, Data: can.Data{0x10, 0x00}})
	bus.HandleFrame(can.Frame{ID: 0x303, Length: 1, Data: can.Data{0x10}})

	assert.Equal(t, 4000, bus.ReadAnalog(2))
	assert.Equal(t, 0, bus.ReadAnalog(5))
	assert.Equal(t, 0, bus.ReadAnalog(3))
}

// TestDecodeSensorFrame_Range tests frames outside the sensor block
func TestDecodeSensorFrame_Range(t *testing.T) {
	_, _, ok := decodeSensorFrame(0x300, can.Frame{ID: 0x400, Length: 2})
	assert.False(t, ok)

	pin, value, ok := decodeSensorFrame(0x300, can.Frame{ID: 0x3FF, Length: 2, Data: can.Data{0x01, 0x01}})
	assert.True(t, ok)
	assert.Equal(t, 0xFF, pin)
	assert.Equal(t, 257, value)
}
