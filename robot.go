package main

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Robot owns every controller and the hardware they share
type Robot struct {
	config    *Config
	hw        Hardware
	sim       *SimHardware
	actuators []*Actuator
	drive     *Drive
	sequencer *Sequencer
	metrics   *Metrics
}

// OpenHardware connects the configured backends. dryRun forces the
// simulator for motors and sensors. The returned simulator is nil unless
// something is simulated.
func OpenHardware(ctx context.Context, config *Config, dryRun bool) (Hardware, *SimHardware, error) {
	var hw Hardware
	var sim *SimHardware

	if dryRun || config.Hardware.Backend == BackendSim {
		sim = NewSimFromConfig(config)
		hw = sim.Hardware()
	} else {
		bus, err := DialCANBus(ctx, config.Hardware)
		if err != nil {
			return Hardware{}, nil, fmt.Errorf("failed to open CAN bus: %w", err)
		}
		hw.Motors = bus
		hw.Sensors = bus
	}

	switch config.Hardware.Operator {
	case BackendSerial:
		op, err := OpenSerialOperator(ctx, config.Hardware)
		if err != nil {
			return Hardware{}, nil, fmt.Errorf("failed to open operator bridge: %w", err)
		}
		hw.Operator = op
	default:
		if sim == nil {
			// Joystick idle; the robot only holds position
			sim = NewSimHardware()
		}
		hw.Operator = sim
	}

	return hw, sim, nil
}

// NewRobot builds every controller from config. Motor writes go through a
// slew limiter.
func NewRobot(config *Config, hw Hardware, sim *SimHardware, metrics *Metrics) (*Robot, error) {
	hw.Motors = NewSlewSink(hw.Motors, config.Control.SlewStep)

	r := &Robot{
		config:  config,
		hw:      hw,
		sim:     sim,
		metrics: metrics,
		drive:   NewDrive(config.Drive, hw, metrics),
	}

	for _, ac := range config.Actuators {
		pidCfg := mergePID(config.PID, ac.PID)
		a, err := NewActuator(ac, pidCfg, hw, metrics)
		if err != nil {
			return nil, err
		}

		probe := NewPIDController(pidCfg.Kp, pidCfg.Ki, pidCfg.Kd)
		for _, w := range probe.ValidateGains() {
			log.Printf("Warning: %s PID: %s", ac.Name, w)
		}
		r.actuators = append(r.actuators, a)
	}

	r.sequencer = NewSequencer(r.actuators, r.drive, config.Control.Period, metrics)
	return r, nil
}

// Controllers returns the drive followed by every actuator
func (r *Robot) Controllers() []Controller {
	out := []Controller{r.drive}
	for _, a := range r.actuators {
		out = append(out, a)
	}
	return out
}

// Actuator looks up an actuator by name
func (r *Robot) Actuator(name string) (*Actuator, bool) {
	for _, a := range r.actuators {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// Statuses returns a snapshot of every controller
func (r *Robot) Statuses() []ActuatorStatus {
	var out []ActuatorStatus
	for _, c := range r.Controllers() {
		out = append(out, c.Status())
	}
	return out
}

// StatusOf returns the snapshot of one controller
func (r *Robot) StatusOf(name string) (ActuatorStatus, bool) {
	for _, c := range r.Controllers() {
		if c.Name() == name {
			return c.Status(), true
		}
	}
	return ActuatorStatus{}, false
}

// Run starts one control loop per controller, plus the plant when
// simulated, and blocks until ctx is canceled. Every motor is stopped on
// the way out.
func (r *Robot) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, c := range r.Controllers() {
		wg.Add(1)
		go func(c Controller) {
			defer wg.Done()
			RunControlLoop(ctx, c, r.config.Control.Period, r.metrics)
		}(c)
	}

	if r.sim != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.sim.Run(ctx, r.config.Control.Period)
		}()
	}

	wg.Wait()

	log.Println("Control loops stopped, stopping all motors...")
	if err := r.sequencer.StopAll(); err != nil {
		log.Printf("Warning: failed to stop motors during shutdown: %v", err)
	}
}

// RunRoutine plays a configured autonomous routine and then hands every
// controller back to the operator. Actuators a script left unlocked hold
// wherever they ended up.
func (r *Robot) RunRoutine(ctx context.Context, name string) error {
	routine, ok := r.config.Routine(name)
	if !ok {
		return fmt.Errorf("unknown routine %s", name)
	}

	defer func() {
		for _, a := range r.actuators {
			if !a.Locked() {
				a.LockCurrent()
			}
		}
		r.drive.Lock()
		log.Printf("Routine %s over, operator control restored", name)
	}()

	return r.sequencer.Run(ctx, routine)
}
