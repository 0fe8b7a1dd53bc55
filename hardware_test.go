package main

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type motorWrite struct {
	Port      int
	Cmd       int
	Immediate bool
}

// fakeHardware is an in-memory hardware backend for tests
type fakeHardware struct {
	mu      sync.Mutex
	writes  []motorWrite
	motors  map[int]int
	analog  map[int]int
	axes    map[string]int
	buttons map[string]bool
	failErr error
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		motors:  make(map[int]int),
		analog:  make(map[int]int),
		axes:    make(map[string]int),
		buttons: make(map[string]bool),
	}
}

func (f *fakeHardware) SetMotor(port int, cmd int, immediate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.writes = append(f.writes, motorWrite{Port: port, Cmd: cmd, Immediate: immediate})
	f.motors[port] = cmd
	return nil
}

func (f *fakeHardware) ReadAnalog(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analog[pin]
}

func (f *fakeHardware) Axis(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.axes[channel]
}

func (f *fakeHardware) Button(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buttons[id]
}

func (f *fakeHardware) setAnalog(pin, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analog[pin] = value
}

func (f *fakeHardware) setAxis(channel string, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.axes[channel] = value
}

func (f *fakeHardware) setButton(id string, pressed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buttons[id] = pressed
}

func (f *fakeHardware) motor(port int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.motors[port]
}

func (f *fakeHardware) lastWrite() motorWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return motorWrite{}
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeHardware) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeHardware) hardware() Hardware {
	return Hardware{Motors: f, Sensors: f, Operator: f}
}

// TestSlewSink_LimitsSmoothedCommands tests the ramp for non-immediate writes
func TestSlewSink_LimitsSmoothedCommands(t *testing.T) {
	// Arrange
	fake := newFakeHardware()
	sink := NewSlewSink(fake, 15)

	// Act & Assert
	require.NoError(t, sink.SetMotor(1, 100, false))
	assert.Equal(t, 15, fake.motor(1))
	require.NoError(t, sink.SetMotor(1, 100, false))
	assert.Equal(t, 30, fake.motor(1))
	require.NoError(t, sink.SetMotor(1, -100, false))
	assert.Equal(t, 15, fake.motor(1))
	assert.Equal(t, 15, sink.Current(1))
}

// TestSlewSink_ImmediateBypasses tests that immediate writes are not limited
func TestSlewSink_ImmediateBypasses(t *testing.T) {
	fake := newFakeHardware()
	sink := NewSlewSink(fake, 15)

	require.NoError(t, sink.SetMotor(2, -127, true))

	assert.Equal(t, -127, fake.motor(2))
	assert.True(t, fake.lastWrite().Immediate)
}

// TestSlewSink_ClampsCommands tests that out of range commands are clamped
func TestSlewSink_ClampsCommands(t *testing.T) {
	fake := newFakeHardware()
	sink := NewSlewSink(fake, 0)

	require.NoError(t, sink.SetMotor(3, 900, false))

	assert.Equal(t, 127, fake.motor(3))
}

// TestSlewSink_WrapsErrors tests error propagation from the backend
func TestSlewSink_WrapsErrors(t *testing.T) {
	fake := newFakeHardware()
	fake.failErr = errors.New("bus off")
	sink := NewSlewSink(fake, 10)

	err := sink.SetMotor(4, 10, true)

	require.Error(t, err)
	assert.ErrorIs(t, err, fake.failErr)
	assert.Contains(t, err.Error(), "motor 4")
}
