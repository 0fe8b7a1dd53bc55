package main

import (
	"fmt"
	"sync"
)

// MotorSink accepts motor commands in [-127, 127]. Immediate commands bypass
// any slew limiting between the controller and the motor.
type MotorSink interface {
	SetMotor(port int, cmd int, immediate bool) error
}

// SensorSource reads analog sensors such as potentiometers. Reads never block;
// backends serve the most recent sample.
type SensorSource interface {
	ReadAnalog(pin int) int
}

// OperatorInput reads the driver's joystick axes and buttons. Axes are in
// [-127, 127].
type OperatorInput interface {
	Axis(channel string) int
	Button(id string) bool
}

// Hardware bundles the three hardware collaborators a controller needs
type Hardware struct {
	Motors   MotorSink
	Sensors  SensorSource
	Operator OperatorInput
}

// SlewSink wraps a MotorSink and limits how fast non-immediate commands can
// change. Each write moves the motor at most Step units toward the request.
type SlewSink struct {
	next MotorSink
	step int

	mu      sync.Mutex
	current map[int]int
}

// NewSlewSink creates a slew limiter. A step of 0 or less disables limiting.
func NewSlewSink(next MotorSink, step int) *SlewSink {
	return &SlewSink{
		next:    next,
		step:    step,
		current: make(map[int]int),
	}
}

// SetMotor forwards the command, rate limited unless immediate is set
func (s *SlewSink) SetMotor(port int, cmd int, immediate bool) error {
	cmd = clampCommand(cmd)

	s.mu.Lock()
	out := cmd
	if !immediate && s.step > 0 {
		cur := s.current[port]
		switch {
		case cmd > cur+s.step:
			out = cur + s.step
		case cmd < cur-s.step:
			out = cur - s.step
		}
	}
	s.current[port] = out
	s.mu.Unlock()

	if err := s.next.SetMotor(port, out, immediate); err != nil {
		return fmt.Errorf("motor %d: %w", port, err)
	}
	return nil
}

// Current returns the last command forwarded to a port
func (s *SlewSink) Current(port int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[port]
}
