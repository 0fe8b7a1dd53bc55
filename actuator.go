package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// Reserved position and lock names
const (
	PositionUnknown = "unknown"
	LockCurrentName = "current"
	LockManualName  = "manual"
)

// Consecutive motor write failures before an actuator falls back to 0
const maxWriteFailures = 5

// Controller is a mechanism driven once per control cycle
type Controller interface {
	Name() string
	Tick()
	Lock()
	Unlock()
	Locked() bool
	Stop() error
	Status() ActuatorStatus
}

// ActuatorStatus is a snapshot of an actuator for the debug API and telemetry
type ActuatorStatus struct {
	Name     string               `json:"name"`
	Locked   bool                 `json:"locked"`
	Position string               `json:"position"`
	Commands []int                `json:"commands"`
	Sensors  []int                `json:"sensors"`
	Loops    []map[string]float64 `json:"loops,omitempty"`
}

// Actuator is a potentiometer-locked mechanism that hands off between
// joystick driving and PID position hold. Linked actuators drive every motor
// from one loop; independent actuators run a left and a right loop that share
// one target decision.
type Actuator struct {
	cfg     ActuatorConfig
	hw      Hardware
	shaper  OutputShaper
	metrics *Metrics

	mu            sync.Mutex
	locked        bool
	position      string
	pids          []*PIDController
	commands      []int
	lo, hi        float64
	writeFailures int
}

// NewActuator builds an actuator from its configuration. pidCfg holds the
// gains after merging the actuator override with the global defaults.
func NewActuator(cfg ActuatorConfig, pidCfg PIDConfig, hw Hardware, metrics *Metrics) (*Actuator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("actuator %s: %w", cfg.Name, err)
	}
	shaper, err := newShaper(cfg.Shaping)
	if err != nil {
		return nil, fmt.Errorf("actuator %s: %w", cfg.Name, err)
	}

	loops := 1
	if cfg.Mode == ModeIndependent {
		loops = 2
	}

	a := &Actuator{
		cfg:      cfg,
		hw:       hw,
		shaper:   shaper,
		metrics:  metrics,
		locked:   true,
		position: PositionUnknown,
		commands: make([]int, len(cfg.Motors)),
		lo:       math.Inf(1),
		hi:       math.Inf(-1),
	}
	for _, p := range cfg.Positions {
		a.lo = math.Min(a.lo, float64(p.Value))
		a.hi = math.Max(a.hi, float64(p.Value))
	}
	for i := 0; i < loops; i++ {
		pid := NewPIDController(pidCfg.Kp, pidCfg.Ki, pidCfg.Kd)
		pid.Reversed = cfg.Reversed
		if pidCfg.IntegralLimit > 0 {
			pid.IntegralLimit = pidCfg.IntegralLimit
		}
		if pidCfg.ErrorThreshold > 0 {
			pid.ErrorThreshold = pidCfg.ErrorThreshold
		}
		if pidCfg.DT > 0 {
			pid.DT = pidCfg.DT
		}
		if pidCfg.Scale > 0 {
			pid.Scale = pidCfg.Scale
		}
		a.pids = append(a.pids, pid)
	}

	return a, nil
}

// Name returns the configured actuator name
func (a *Actuator) Name() string {
	return a.cfg.Name
}

// sensorPin returns the pot that feeds loop i
func (a *Actuator) sensorPin(i int) int {
	if i < len(a.cfg.Sensors) {
		return a.cfg.Sensors[i]
	}
	return a.cfg.Sensors[0]
}

// Tick runs one control cycle. It does nothing while the actuator is
// unlocked.
func (a *Actuator) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.locked {
		return
	}

	manual := MapSpeed(applyDeadband(a.hw.Operator.Axis(a.cfg.Axis), a.cfg.InputDeadband))
	if manual != 0 {
		a.driveManual(manual)
		return
	}
	a.hold()
}

// driveManual passes the operator command straight through with the PID loops
// flushed
func (a *Actuator) driveManual(cmd int) {
	for i, pid := range a.pids {
		pid.Enabled = false
		pid.Sensor = float64(a.hw.Sensors.ReadAnalog(a.sensorPin(i)))
		pid.Target = clamp(pid.Sensor, a.lo, a.hi)
		pid.Update()
	}
	a.position = PositionUnknown

	if a.interlocked(cmd) {
		cmd = 0
	}
	cmds := make([]int, len(a.cfg.Motors))
	for i := range cmds {
		cmds[i] = cmd
	}
	a.write(cmds, true)
}

// interlocked reports whether cmd would push the mechanism further into a
// travel limit it is already close to
func (a *Actuator) interlocked(cmd int) bool {
	if a.cfg.InterlockMargin <= 0 || cmd == 0 {
		return false
	}
	margin := float64(a.cfg.InterlockMargin)
	towardHigh := cmd > 0
	if a.cfg.Reversed {
		towardHigh = !towardHigh
	}
	for _, pid := range a.pids {
		if towardHigh && pid.Target >= a.hi-margin {
			return true
		}
		if !towardHigh && pid.Target <= a.lo+margin {
			return true
		}
	}
	return false
}

// hold runs the PID loops toward the current target
func (a *Actuator) hold() {
	for _, p := range a.cfg.Positions {
		if a.pressed(p.Buttons) {
			a.engage(p.Name, float64(p.Value))
			break
		}
	}

	cmds := make([]int, len(a.cfg.Motors))
	immediate := false
	for i, pid := range a.pids {
		pid.Sensor = float64(a.hw.Sensors.ReadAnalog(a.sensorPin(i)))
		if !pid.Enabled {
			pid.Target = pid.Sensor
			pid.Enabled = true
		}
		pid.Target = clamp(pid.Target, a.lo, a.hi)
		pid.Update()
		shaped, now := a.shaper.Shape(float64(pid.OutputCmd), pid.Error, a.position)
		immediate = immediate || now
		cmd := MapSpeed(int(math.Round(clamp(shaped, -MaxCommand, MaxCommand))))

		if a.cfg.Mode == ModeIndependent {
			cmds[i] = cmd
		} else {
			for j := range cmds {
				cmds[j] = cmd
			}
		}
	}
	a.write(cmds, immediate)
}

func (a *Actuator) pressed(buttons []string) bool {
	for _, b := range buttons {
		if a.hw.Operator.Button(b) {
			return true
		}
	}
	return false
}

// engage enables every loop toward value and tags the position
func (a *Actuator) engage(name string, value float64) {
	for _, pid := range a.pids {
		pid.Target = clamp(value, a.lo, a.hi)
		pid.Enabled = true
	}
	a.position = name
}

// write sends one command per motor. After maxWriteFailures consecutive
// failures the actuator commands 0 until a write succeeds.
func (a *Actuator) write(cmds []int, immediate bool) {
	if a.writeFailures >= maxWriteFailures {
		for i := range cmds {
			cmds[i] = 0
		}
		immediate = true
	}

	var failed error
	for i, port := range a.cfg.Motors {
		cmd := clampCommand(cmds[i])
		if err := a.hw.Motors.SetMotor(port, cmd, immediate); err != nil {
			failed = err
			continue
		}
		a.commands[i] = cmd
	}

	if failed != nil {
		a.writeFailures++
		a.metrics.RecordError("motor_write")
		log.Printf("%s: motor write failed (attempt %d/%d): %v",
			a.cfg.Name, a.writeFailures, maxWriteFailures, failed)
		if a.writeFailures == maxWriteFailures {
			log.Printf("%s: too many motor write failures (%d), commanding 0", a.cfg.Name, a.writeFailures)
		}
		return
	}
	a.writeFailures = 0
}

// Move commands every motor directly without engaging the PID. It does not
// lock the actuator, so a locked actuator overwrites it on the next Tick.
func (a *Actuator) Move(cmd int, immediate bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.move(cmd, immediate)
}

func (a *Actuator) move(cmd int, immediate bool) error {
	cmd = clampCommand(cmd)
	for i, port := range a.cfg.Motors {
		if err := a.hw.Motors.SetMotor(port, cmd, immediate); err != nil {
			a.metrics.RecordError("motor_write")
			return fmt.Errorf("%s: %w", a.cfg.Name, err)
		}
		a.commands[i] = cmd
	}
	return nil
}

// Stop commands 0 to every motor immediately
func (a *Actuator) Stop() error {
	return a.Move(0, true)
}

// Lock hands the actuator back to its control loop
func (a *Actuator) Lock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.locked = true
}

// Unlock stops the control loop from issuing commands so a script can drive
// the actuator with Move
func (a *Actuator) Unlock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.locked = false
}

// Locked reports whether the control loop owns the actuator
func (a *Actuator) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// LockTo locks the actuator and holds the named position
func (a *Actuator) LockTo(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range a.cfg.Positions {
		if p.Name == name {
			a.locked = true
			a.engage(p.Name, float64(p.Value))
			return nil
		}
	}
	return fmt.Errorf("%s: unknown position %q", a.cfg.Name, name)
}

// LockCurrent locks the actuator and holds wherever it is now
func (a *Actuator) LockCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.locked = true
	for i, pid := range a.pids {
		pid.Target = clamp(float64(a.hw.Sensors.ReadAnalog(a.sensorPin(i))), a.lo, a.hi)
		pid.Enabled = true
	}
	a.position = PositionUnknown
}

// ReadSensor returns the current reading of the pot feeding loop i
func (a *Actuator) ReadSensor(i int) int {
	return a.hw.Sensors.ReadAnalog(a.sensorPin(i))
}

// Position returns the named position being held, or PositionUnknown
func (a *Actuator) Position() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Targets returns the current target of every loop
func (a *Actuator) Targets() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.pids))
	for i, pid := range a.pids {
		out[i] = pid.Target
	}
	return out
}

// Range returns the travel limits implied by the named positions
func (a *Actuator) Range() (lo, hi float64) {
	return a.lo, a.hi
}

// Status returns a snapshot including the PID state of every loop
func (a *Actuator) Status() ActuatorStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	status := ActuatorStatus{
		Name:     a.cfg.Name,
		Locked:   a.locked,
		Position: a.position,
		Commands: append([]int(nil), a.commands...),
	}
	for _, pin := range a.cfg.Sensors {
		status.Sensors = append(status.Sensors, a.hw.Sensors.ReadAnalog(pin))
	}
	for _, pid := range a.pids {
		status.Loops = append(status.Loops, pid.GetState())
	}
	return status
}

// Gains returns the gains of the first loop
func (a *Actuator) Gains() (kp, ki, kd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pids[0].Kp, a.pids[0].Ki, a.pids[0].Kd
}

// SetGains applies new gains to every loop
func (a *Actuator) SetGains(kp, ki, kd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pid := range a.pids {
		pid.SetGains(kp, ki, kd)
	}
}

// RunControlLoop ticks c every period until ctx is canceled
func RunControlLoop(ctx context.Context, c Controller, period time.Duration, metrics *Metrics) {
	log.Printf("Starting %s control loop (period: %v)", c.Name(), period)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("%s control loop stopped", c.Name())
			return
		case <-ticker.C:
			start := time.Now()
			c.Tick()
			metrics.ObserveTick(c.Name(), time.Since(start))
			status := c.Status()
			metrics.ObserveStatus(status)
			logDebugf("%s: locked=%v position=%s commands=%v sensors=%v",
				status.Name, status.Locked, status.Position, status.Commands, status.Sensors)
		}
	}
}
