package main

import (
	"context"
	"math"
	"sync"
	"time"
)

// Pot counts per second per unit of motor command in the simulated plant
const simCountsPerSecond = 20.0

// SimHardware is an in-process robot. Motors integrate into the
// potentiometers they are linked to, and operator input is set directly.
type SimHardware struct {
	mu      sync.Mutex
	motors  map[int]int
	analog  map[int]float64
	axes    map[string]int
	buttons map[string]bool
	links   []simLink
}

// simLink moves one pot by the average command of its motors
type simLink struct {
	pin      int
	motors   []int
	gain     float64
	reversed bool
	lo, hi   float64
}

// NewSimHardware creates an empty simulated robot
func NewSimHardware() *SimHardware {
	return &SimHardware{
		motors:  make(map[int]int),
		analog:  make(map[int]float64),
		axes:    make(map[string]int),
		buttons: make(map[string]bool),
	}
}

// NewSimFromConfig links every actuator's motors to its pots, starting each
// mechanism at its first named position
func NewSimFromConfig(config *Config) *SimHardware {
	s := NewSimHardware()
	for _, a := range config.Actuators {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range a.Positions {
			lo = math.Min(lo, float64(p.Value))
			hi = math.Max(hi, float64(p.Value))
		}
		lo = math.Max(0, lo-200)
		hi = math.Min(maxSensorValue, hi+200)
		start := float64(a.Positions[0].Value)

		for i, pin := range a.Sensors {
			motors := a.Motors
			if a.Mode == ModeIndependent && len(a.Sensors) == len(a.Motors) {
				motors = []int{a.Motors[i]}
			}
			s.Attach(pin, motors, simCountsPerSecond, a.Reversed, lo, hi, start)
		}
	}
	return s
}

// Attach links a pot to motors. Positive commands raise the reading unless
// reversed; the reading stays within [lo, hi].
func (s *SimHardware) Attach(pin int, motors []int, gain float64, reversed bool, lo, hi, start float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, simLink{
		pin:      pin,
		motors:   append([]int(nil), motors...),
		gain:     gain,
		reversed: reversed,
		lo:       lo,
		hi:       hi,
	})
	s.analog[pin] = clamp(start, lo, hi)
}

// Advance moves every linked pot by dt of motion
func (s *SimHardware) Advance(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.links {
		var sum float64
		for _, m := range l.motors {
			sum += float64(s.motors[m])
		}
		v := sum / float64(len(l.motors)) * l.gain * dt.Seconds()
		if l.reversed {
			v = -v
		}
		s.analog[l.pin] = clamp(s.analog[l.pin]+v, l.lo, l.hi)
	}
}

// Run advances the plant every period until ctx is canceled
func (s *SimHardware) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Advance(period)
		}
	}
}

func (s *SimHardware) SetMotor(port int, cmd int, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motors[port] = clampCommand(cmd)
	return nil
}

func (s *SimHardware) ReadAnalog(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(math.Round(s.analog[pin]))
}

func (s *SimHardware) Axis(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axes[channel]
}

func (s *SimHardware) Button(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttons[id]
}

// SetAnalog overrides a pot reading
func (s *SimHardware) SetAnalog(pin, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analog[pin] = float64(value)
}

// SetAxis sets a joystick channel
func (s *SimHardware) SetAxis(channel string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.axes[channel] = clampCommand(value)
}

// SetButton presses or releases a button
func (s *SimHardware) SetButton(id string, pressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons[id] = pressed
}

// Motor returns the last command written to a port
func (s *SimHardware) Motor(port int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motors[port]
}

// Hardware returns the simulator as all three collaborators
func (s *SimHardware) Hardware() Hardware {
	return Hardware{Motors: s, Sensors: s, Operator: s}
}
