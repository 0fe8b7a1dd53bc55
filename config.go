package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Actuator motor topologies
const (
	ModeLinked      = "linked"      // every motor follows one PID loop
	ModeIndependent = "independent" // left/right motors each run their own loop
)

// Output shaping strategies
const (
	ShapingNone     = "none"
	ShapingStiction = "stiction"
	ShapingBand     = "band"
)

// Hardware backends
const (
	BackendSim    = "sim"
	BackendCAN    = "can"
	BackendSerial = "serial"
)

// Highest value a 12-bit potentiometer can report
const maxSensorValue = 4095

// Config represents the complete configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Control    ControlConfig    `yaml:"control"`
	PID        PIDConfig        `yaml:"pid"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Autotune   AutotuneConfig   `yaml:"autotune"`
	Actuators  []ActuatorConfig `yaml:"actuators"`
	Drive      DriveConfig      `yaml:"drive"`
	Autonomous AutonomousConfig `yaml:"autonomous"`
}

// ServerConfig contains server-related settings
type ServerConfig struct {
	MetricsPort int    `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
}

// ControlConfig contains control loop timing
type ControlConfig struct {
	Period   time.Duration `yaml:"period"`    // Control cycle for every actuator
	SlewStep int           `yaml:"slew_step"` // Max change per cycle for smoothed commands
}

// PIDConfig contains PID gains and limits. Zero fields in an actuator's
// override inherit the global value.
type PIDConfig struct {
	Kp             float64 `yaml:"kp"`
	Ki             float64 `yaml:"ki"`
	Kd             float64 `yaml:"kd"`
	IntegralLimit  float64 `yaml:"integral_limit"`  // Anti-windup limit for the integral term
	ErrorThreshold float64 `yaml:"error_threshold"` // Error deadband in sensor counts
	DT             float64 `yaml:"dt"`              // Time step in control cycles
	Scale          float64 `yaml:"scale"`           // PID sum to motor units
}

// HardwareConfig selects and configures the hardware backends
type HardwareConfig struct {
	Backend         string `yaml:"backend"`           // sim or can
	CANInterface    string `yaml:"can_interface"`     // e.g. can0, vcan0
	MotorFrameBase  uint32 `yaml:"motor_frame_base"`  // CAN ID of motor port 0
	SensorFrameBase uint32 `yaml:"sensor_frame_base"` // CAN ID of analog pin 0
	Operator        string `yaml:"operator"`          // sim or serial
	SerialPort      string `yaml:"serial_port"`
	BaudRate        int    `yaml:"baud_rate"`
}

// TelemetryConfig contains MQTT publishing settings. An empty broker
// disables telemetry.
type TelemetryConfig struct {
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	Interval time.Duration `yaml:"interval"`
}

// AutotuneConfig contains relay autotuner settings
type AutotuneConfig struct {
	NoiseBand   float64       `yaml:"noise_band"`
	OutputStep  float64       `yaml:"output_step"`
	Lookback    time.Duration `yaml:"lookback"`
	ControlType string        `yaml:"control_type"` // pi or pid
	Timeout     time.Duration `yaml:"timeout"`
}

// ActuatorConfig describes one potentiometer-locked mechanism
type ActuatorConfig struct {
	Name            string           `yaml:"name"`
	Motors          []int            `yaml:"motors"`
	Mode            string           `yaml:"mode"`
	Sensors         []int            `yaml:"sensors"`
	Reversed        bool             `yaml:"reversed"`   // Pot counts down with positive motor speed
	GearRatio       float64          `yaml:"gear_ratio"` // Motor to pot ratio, informational
	Axis            string           `yaml:"axis"`       // Joystick channel for manual drive
	InputDeadband   int              `yaml:"input_deadband"`
	Positions       []PositionConfig `yaml:"positions"`
	PID             PIDConfig        `yaml:"pid"`
	Shaping         ShapingConfig    `yaml:"shaping"`
	InterlockMargin int              `yaml:"interlock_margin"`
}

// PositionConfig is a named target value and the buttons that select it
type PositionConfig struct {
	Name    string   `yaml:"name"`
	Value   int      `yaml:"value"`
	Buttons []string `yaml:"buttons"`
}

// ShapingConfig selects an OutputShaper
type ShapingConfig struct {
	Kind        string  `yaml:"kind"`
	Position    string  `yaml:"position"`
	Threshold   float64 `yaml:"threshold"`
	Gain        float64 `yaml:"gain"`
	Far         float64 `yaml:"far"`
	FarGain     float64 `yaml:"far_gain"`
	Near        float64 `yaml:"near"`
	NearDivisor float64 `yaml:"near_divisor"`
}

// DriveConfig describes the four wheel X-drive
type DriveConfig struct {
	Northeast int    `yaml:"northeast"`
	Northwest int    `yaml:"northwest"`
	Southeast int    `yaml:"southeast"`
	Southwest int    `yaml:"southwest"`
	AxisX     string `yaml:"axis_x"` // strafe
	AxisY     string `yaml:"axis_y"` // forward
}

// AutonomousConfig holds the scripted routines
type AutonomousConfig struct {
	Routines []RoutineConfig `yaml:"routines"`
}

// RoutineConfig is a named list of timed steps
type RoutineConfig struct {
	Name  string       `yaml:"name"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig applies its actions every cycle for Duration. Stop zeroes all
// motors for the duration instead.
type StepConfig struct {
	Duration time.Duration  `yaml:"duration"`
	Stop     bool           `yaml:"stop"`
	Actions  []ActionConfig `yaml:"actions"`
}

// ActionConfig is one call into an actuator's public API
type ActionConfig struct {
	Actuator  string       `yaml:"actuator"`
	Move      *int         `yaml:"move"`
	Immediate bool         `yaml:"immediate"` // Skip slew limiting for Move and Drive
	Lock      string       `yaml:"lock"`      // position name, "current" or "manual"
	Unlock    bool         `yaml:"unlock"`
	Drive     *DriveAction `yaml:"drive"`
}

// DriveAction commands the drive base open loop
type DriveAction struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// LoadConfig loads and parses the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Set defaults for any missing values
	setDefaults(&config)

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the built-in robot configuration
func DefaultConfig() *Config {
	var config Config
	setDefaults(&config)
	return &config
}

// setDefaults sets default values for any missing configuration fields
func setDefaults(config *Config) {
	if config.Server.MetricsPort == 0 {
		config.Server.MetricsPort = 9090
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = "info"
	}
	if config.Control.Period == 0 {
		config.Control.Period = 25 * time.Millisecond
	}
	if config.Control.SlewStep == 0 {
		config.Control.SlewStep = 15
	}

	if config.PID.Kp == 0 {
		config.PID.Kp = DefaultKp
	}
	if config.PID.Ki == 0 {
		config.PID.Ki = DefaultKi
	}
	if config.PID.Kd == 0 {
		config.PID.Kd = DefaultKd
	}
	if config.PID.IntegralLimit == 0 {
		config.PID.IntegralLimit = DefaultIntegralLimit
	}
	if config.PID.ErrorThreshold == 0 {
		config.PID.ErrorThreshold = DefaultErrorThreshold
	}
	if config.PID.DT == 0 {
		config.PID.DT = 1
	}
	if config.PID.Scale == 0 {
		config.PID.Scale = DefaultOutputScale
	}

	if config.Hardware.Backend == "" {
		config.Hardware.Backend = BackendSim
	}
	if config.Hardware.CANInterface == "" {
		config.Hardware.CANInterface = "can0"
	}
	if config.Hardware.MotorFrameBase == 0 {
		config.Hardware.MotorFrameBase = 0x200
	}
	if config.Hardware.SensorFrameBase == 0 {
		config.Hardware.SensorFrameBase = 0x300
	}
	if config.Hardware.Operator == "" {
		config.Hardware.Operator = BackendSim
	}
	if config.Hardware.BaudRate == 0 {
		config.Hardware.BaudRate = 115200
	}

	if config.Telemetry.Topic == "" {
		config.Telemetry.Topic = "robot/actuators"
	}
	if config.Telemetry.ClientID == "" {
		config.Telemetry.ClientID = "robotctl"
	}
	if config.Telemetry.Interval == 0 {
		config.Telemetry.Interval = time.Second
	}

	if config.Autotune.NoiseBand == 0 {
		config.Autotune.NoiseBand = 0.5
	}
	if config.Autotune.OutputStep == 0 {
		config.Autotune.OutputStep = 30
	}
	if config.Autotune.Lookback == 0 {
		config.Autotune.Lookback = 10 * time.Second
	}
	if config.Autotune.ControlType == "" {
		config.Autotune.ControlType = "pi"
	}
	if config.Autotune.Timeout == 0 {
		config.Autotune.Timeout = 2 * time.Minute
	}

	if len(config.Actuators) == 0 {
		config.Actuators = defaultActuators()
	}
	for i := range config.Actuators {
		a := &config.Actuators[i]
		if a.Mode == "" {
			a.Mode = ModeLinked
		}
		if a.GearRatio == 0 {
			a.GearRatio = 1
		}
		if a.Shaping.Kind == "" {
			a.Shaping.Kind = ShapingNone
		}
	}

	if config.Drive == (DriveConfig{}) {
		config.Drive = DriveConfig{
			Northeast: 1,
			Northwest: 2,
			Southeast: 3,
			Southwest: 4,
			AxisX:     "Ch4",
			AxisY:     "Ch3",
		}
	}

	if len(config.Autonomous.Routines) == 0 {
		config.Autonomous.Routines = defaultRoutines()
	}
}

// defaultActuators describes the competition robot
func defaultActuators() []ActuatorConfig {
	return []ActuatorConfig{
		{
			Name:      "arm",
			Motors:    []int{5, 6, 7},
			Mode:      ModeLinked,
			Sensors:   []int{1},
			GearRatio: 1.0 / 7.0,
			Axis:      "Ch2Xmtr2",
			Positions: []PositionConfig{
				{Name: "down", Value: 400, Buttons: []string{"Btn7D", "Btn7DXmtr2"}},
				{Name: "bump", Value: 1300, Buttons: []string{"Btn7L", "Btn7LXmtr2"}},
				{Name: "up", Value: 3200, Buttons: []string{"Btn7U", "Btn7UXmtr2"}},
			},
			Shaping: ShapingConfig{Kind: ShapingStiction, Position: "down", Threshold: 50, Gain: 100},
		},
		{
			Name:      "claw",
			Motors:    []int{8, 9},
			Mode:      ModeIndependent,
			Sensors:   []int{2},
			Reversed:  true,
			GearRatio: 1.0 / 7.0,
			Axis:      "Ch2",
			Positions: []PositionConfig{
				{Name: "grab", Value: 1800, Buttons: []string{"Btn6U", "Btn6UXmtr2"}},
				{Name: "open", Value: 3900, Buttons: []string{"Btn6D", "Btn6DXmtr2"}},
			},
			Shaping:         ShapingConfig{Kind: ShapingBand, Far: 500, FarGain: 10, Near: 100, NearDivisor: 5},
			InterlockMargin: 500,
		},
		{
			Name:          "lift",
			Motors:        []int{10, 11, 12},
			Mode:          ModeLinked,
			Sensors:       []int{3},
			Reversed:      true,
			GearRatio:     1.0 / 5.0,
			Axis:          "Ch3Xmtr2",
			InputDeadband: 20,
			Positions: []PositionConfig{
				{Name: "down", Value: 3600, Buttons: []string{"Btn8D", "Btn8DXmtr2"}},
				{Name: "bump", Value: 2600, Buttons: []string{"Btn8L", "Btn8LXmtr2"}},
				{Name: "up", Value: 1200, Buttons: []string{"Btn8U", "Btn8UXmtr2"}},
			},
		},
		{
			Name:      "setter",
			Motors:    []int{13, 14},
			Mode:      ModeIndependent,
			Sensors:   []int{4},
			Reversed:  true,
			GearRatio: 1.0 / 7.0,
			Axis:      "Ch1Xmtr2",
			Positions: []PositionConfig{
				{Name: "grab", Value: 1500, Buttons: []string{"Btn5U", "Btn5UXmtr2"}},
				{Name: "open", Value: 3000, Buttons: []string{"Btn5D", "Btn5DXmtr2"}},
			},
			Shaping:         ShapingConfig{Kind: ShapingBand, Far: 500, FarGain: 10, Near: 100, NearDivisor: 5},
			InterlockMargin: 250,
		},
		{
			Name:      "wrist",
			Motors:    []int{15},
			Mode:      ModeLinked,
			Sensors:   []int{5},
			Reversed:  true,
			GearRatio: 1.0 / 3.0,
			Axis:      "Ch4Xmtr2",
			Positions: []PositionConfig{
				{Name: "rest", Value: 3170, Buttons: []string{"Btn8R"}},
				{Name: "rest_inverted", Value: 620, Buttons: []string{"Btn8RXmtr2"}},
			},
		},
	}
}

func intPtr(v int) *int { return &v }

// defaultRoutines is the opening of the match: drop the arm, grab, back off
func defaultRoutines() []RoutineConfig {
	return []RoutineConfig{
		{
			Name: "grab-and-score",
			Steps: []StepConfig{
				{Duration: 0, Actions: []ActionConfig{
					{Actuator: "arm", Unlock: true},
					{Actuator: "claw", Unlock: true},
					{Actuator: DriveName, Unlock: true},
				}},
				{Duration: 50 * time.Millisecond, Stop: true},
				{Duration: 600 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: "arm", Move: intPtr(-127)},
					{Actuator: "claw", Move: intPtr(0)},
				}},
				{Duration: 250 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: "arm", Lock: "down"},
				}},
				{Duration: 1000 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: "claw", Lock: "open"},
				}},
				{Duration: 700 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: DriveName, Drive: &DriveAction{Y: 127}},
				}},
				{Duration: 400 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: "claw", Lock: "grab"},
				}},
				{Duration: 100 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: DriveName, Drive: &DriveAction{}},
				}},
				{Duration: 900 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: "arm", Lock: "up"},
					{Actuator: DriveName, Drive: &DriveAction{Y: -127}},
				}},
				{Duration: 400 * time.Millisecond, Actions: []ActionConfig{
					{Actuator: "claw", Lock: "open"},
				}},
				{Duration: 50 * time.Millisecond, Stop: true},
			},
		},
	}
}

// Validate checks all configuration values for logical consistency
func (c *Config) Validate() error {
	// Server validation
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 1-65535, got %d", c.Server.MetricsPort)
	}
	if c.Server.LogLevel != "debug" && c.Server.LogLevel != "info" &&
		c.Server.LogLevel != "warn" && c.Server.LogLevel != "error" {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error, got %s", c.Server.LogLevel)
	}

	// Control validation
	if c.Control.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", c.Control.Period)
	}
	if c.Control.SlewStep < 0 {
		return fmt.Errorf("slew_step must be non-negative, got %d", c.Control.SlewStep)
	}

	// PID validation
	if err := c.PID.validate(); err != nil {
		return err
	}

	// Hardware validation
	if c.Hardware.Backend != BackendSim && c.Hardware.Backend != BackendCAN {
		return fmt.Errorf("hardware backend must be sim or can, got %s", c.Hardware.Backend)
	}
	if c.Hardware.Operator != BackendSim && c.Hardware.Operator != BackendSerial {
		return fmt.Errorf("operator backend must be sim or serial, got %s", c.Hardware.Operator)
	}
	if c.Hardware.Operator == BackendSerial && c.Hardware.SerialPort == "" {
		return fmt.Errorf("serial_port is required for the serial operator backend")
	}

	// Autotune validation
	if c.Autotune.ControlType != "pi" && c.Autotune.ControlType != "pid" {
		return fmt.Errorf("control_type must be pi or pid, got %s", c.Autotune.ControlType)
	}
	if c.Autotune.OutputStep <= 0 {
		return fmt.Errorf("output_step must be positive, got %.1f", c.Autotune.OutputStep)
	}
	if c.Autotune.NoiseBand < 0 {
		return fmt.Errorf("noise_band must be non-negative, got %.1f", c.Autotune.NoiseBand)
	}
	if c.Autotune.Lookback < time.Second {
		return fmt.Errorf("lookback must be at least 1s, got %v", c.Autotune.Lookback)
	}

	// Actuator validation
	names := map[string]bool{DriveName: true}
	for i := range c.Actuators {
		a := &c.Actuators[i]
		if a.Name == "" {
			return fmt.Errorf("actuator %d has no name", i)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate actuator name %s", a.Name)
		}
		names[a.Name] = true
		if err := a.validate(); err != nil {
			return fmt.Errorf("actuator %s: %w", a.Name, err)
		}
	}

	// Routine validation
	routines := make(map[string]bool)
	for _, r := range c.Autonomous.Routines {
		if r.Name == "" {
			return fmt.Errorf("routine has no name")
		}
		if routines[r.Name] {
			return fmt.Errorf("duplicate routine name %s", r.Name)
		}
		routines[r.Name] = true
		for j, s := range r.Steps {
			if s.Duration < 0 {
				return fmt.Errorf("routine %s step %d: duration must be non-negative", r.Name, j)
			}
			for _, act := range s.Actions {
				if !names[act.Actuator] {
					return fmt.Errorf("routine %s step %d: unknown actuator %s", r.Name, j, act.Actuator)
				}
				if err := c.validateAction(act); err != nil {
					return fmt.Errorf("routine %s step %d: %w", r.Name, j, err)
				}
			}
		}
	}

	return nil
}

// validateAction checks that an action only uses operations its target has
func (c *Config) validateAction(act ActionConfig) error {
	if act.Actuator == DriveName {
		if act.Move != nil {
			return fmt.Errorf("drive takes drive actions, not move")
		}
		if act.Lock != "" && act.Lock != LockManualName {
			return fmt.Errorf("drive can only lock to %s, got %s", LockManualName, act.Lock)
		}
		return nil
	}

	if act.Drive != nil {
		return fmt.Errorf("drive action on %s", act.Actuator)
	}
	if act.Lock == "" || act.Lock == LockCurrentName || act.Lock == LockManualName {
		return nil
	}
	a, _ := c.Actuator(act.Actuator)
	for _, p := range a.Positions {
		if p.Name == act.Lock {
			return nil
		}
	}
	return fmt.Errorf("%s has no position %s", act.Actuator, act.Lock)
}

func (p PIDConfig) validate() error {
	if p.Kp < 0 {
		return fmt.Errorf("kp must be non-negative, got %.4f", p.Kp)
	}
	if p.Ki < 0 {
		return fmt.Errorf("ki must be non-negative, got %.4f", p.Ki)
	}
	if p.Kd < 0 {
		return fmt.Errorf("kd must be non-negative, got %.4f", p.Kd)
	}
	if p.IntegralLimit < 0 {
		return fmt.Errorf("integral_limit must be non-negative, got %.1f", p.IntegralLimit)
	}
	if p.ErrorThreshold < 0 {
		return fmt.Errorf("error_threshold must be non-negative, got %.1f", p.ErrorThreshold)
	}
	if p.DT < 0 {
		return fmt.Errorf("dt must be non-negative, got %.3f", p.DT)
	}
	return nil
}

func (a *ActuatorConfig) validate() error {
	if len(a.Motors) == 0 {
		return fmt.Errorf("at least one motor is required")
	}
	switch a.Mode {
	case ModeLinked:
		if len(a.Sensors) != 1 {
			return fmt.Errorf("linked mode needs exactly one sensor, got %d", len(a.Sensors))
		}
	case ModeIndependent:
		if len(a.Motors) != 2 {
			return fmt.Errorf("independent mode needs exactly two motors, got %d", len(a.Motors))
		}
		if len(a.Sensors) < 1 || len(a.Sensors) > 2 {
			return fmt.Errorf("independent mode needs one or two sensors, got %d", len(a.Sensors))
		}
	default:
		return fmt.Errorf("mode must be linked or independent, got %s", a.Mode)
	}

	if len(a.Positions) < 2 {
		return fmt.Errorf("at least two named positions are required to bound travel")
	}
	seen := make(map[string]bool)
	for _, p := range a.Positions {
		if p.Name == "" {
			return fmt.Errorf("position has no name")
		}
		if p.Name == PositionUnknown || p.Name == LockCurrentName || p.Name == LockManualName {
			return fmt.Errorf("position name %s is reserved", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate position %s", p.Name)
		}
		seen[p.Name] = true
		if p.Value < 0 || p.Value > maxSensorValue {
			return fmt.Errorf("position %s value must be between 0-%d, got %d", p.Name, maxSensorValue, p.Value)
		}
	}

	if a.InputDeadband < 0 || a.InputDeadband > MaxCommand {
		return fmt.Errorf("input_deadband must be between 0-%d, got %d", MaxCommand, a.InputDeadband)
	}
	if a.InterlockMargin < 0 {
		return fmt.Errorf("interlock_margin must be non-negative, got %d", a.InterlockMargin)
	}
	if err := a.PID.validate(); err != nil {
		return err
	}

	switch a.Shaping.Kind {
	case ShapingNone:
	case ShapingStiction:
		if !seen[a.Shaping.Position] {
			return fmt.Errorf("stiction shaping refers to unknown position %s", a.Shaping.Position)
		}
	case ShapingBand:
		if a.Shaping.Near > a.Shaping.Far {
			return fmt.Errorf("band shaping near (%.0f) must not exceed far (%.0f)", a.Shaping.Near, a.Shaping.Far)
		}
	default:
		return fmt.Errorf("shaping kind must be none, stiction or band, got %s", a.Shaping.Kind)
	}

	return nil
}

// Routine returns the routine with the given name
func (c *Config) Routine(name string) (RoutineConfig, bool) {
	for _, r := range c.Autonomous.Routines {
		if r.Name == name {
			return r, true
		}
	}
	return RoutineConfig{}, false
}

// Actuator returns the actuator configuration with the given name
func (c *Config) Actuator(name string) (ActuatorConfig, bool) {
	for _, a := range c.Actuators {
		if a.Name == name {
			return a, true
		}
	}
	return ActuatorConfig{}, false
}

// mergePID fills zero fields of override from base
func mergePID(base, override PIDConfig) PIDConfig {
	out := override
	if out.Kp == 0 {
		out.Kp = base.Kp
	}
	if out.Ki == 0 {
		out.Ki = base.Ki
	}
	if out.Kd == 0 {
		out.Kd = base.Kd
	}
	if out.IntegralLimit == 0 {
		out.IntegralLimit = base.IntegralLimit
	}
	if out.ErrorThreshold == 0 {
		out.ErrorThreshold = base.ErrorThreshold
	}
	if out.DT == 0 {
		out.DT = base.DT
	}
	if out.Scale == 0 {
		out.Scale = base.Scale
	}
	return out
}
