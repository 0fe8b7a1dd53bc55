package main

import "math"

// Default gains and limits for a potentiometer position lock
const (
	DefaultKp             = 0.004
	DefaultKi             = 0.0001
	DefaultKd             = 0.01
	DefaultIntegralLimit  = 1000.0
	DefaultErrorThreshold = 10.0
	DefaultOutputScale    = 127.0
)

// PIDController is a position lock controller for a single potentiometer axis.
// Gains are expressed per control cycle; DT scales the integral and derivative
// terms when the loop runs at a different rate.
type PIDController struct {
	Enabled bool

	// PID gains
	Kp float64
	Ki float64
	Kd float64

	Target   float64 // Target sensor value
	Sensor   float64 // Last sensor value fed to Update
	Reversed bool    // Sensor counts down when the motor drives forward

	// Internal state
	Error      float64
	LastError  float64
	Integral   float64
	Derivative float64

	IntegralLimit  float64 // Anti-windup bound on the integral term
	ErrorThreshold float64 // Errors smaller than this are treated as zero
	DT             float64 // Time step in control cycles
	Scale          float64 // Converts the PID sum into motor units

	OutputRaw float64 // Unclamped output in motor units
	OutputCmd int     // OutputRaw clamped to the motor range
}

// PIDTerms contains the individual PID components for monitoring
type PIDTerms struct {
	P     float64 // Proportional term
	I     float64 // Integral term
	D     float64 // Derivative term
	Error float64 // Current error
}

// NewPIDController creates a disabled controller with the given gains
func NewPIDController(kp, ki, kd float64) *PIDController {
	return &PIDController{
		Kp:             kp,
		Ki:             ki,
		Kd:             kd,
		IntegralLimit:  DefaultIntegralLimit,
		ErrorThreshold: DefaultErrorThreshold,
		DT:             1,
		Scale:          DefaultOutputScale,
	}
}

// Update runs one PID step against the current Target and Sensor and returns
// the raw output in motor units. A disabled controller is flushed: integral
// and last error are zeroed and the output is 0, so re-enabling it later does
// not kick.
func (p *PIDController) Update() float64 {
	if !p.Enabled {
		p.Error = 0
		p.LastError = 0
		p.Integral = 0
		p.Derivative = 0
		p.OutputRaw = 0
		p.OutputCmd = 0
		return 0
	}

	dt := p.DT
	if dt <= 0 {
		dt = 1
	}

	if p.Reversed {
		p.Error = p.Sensor - p.Target
	} else {
		p.Error = p.Target - p.Sensor
	}
	if math.Abs(p.Error) < p.ErrorThreshold {
		p.Error = 0
	}

	p.Integral = clamp(p.Integral+p.Error*dt, -p.IntegralLimit, p.IntegralLimit)
	p.Derivative = (p.Error - p.LastError) / dt
	p.LastError = p.Error

	p.OutputRaw = (p.Kp*p.Error + p.Ki*p.Integral + p.Kd*p.Derivative) * p.Scale
	p.OutputCmd = clampCommand(int(math.Round(clamp(p.OutputRaw, -MaxCommand, MaxCommand))))

	return p.OutputRaw
}

// Terms returns the scaled contribution of each term from the last Update
func (p *PIDController) Terms() PIDTerms {
	return PIDTerms{
		P:     p.Kp * p.Error * p.Scale,
		I:     p.Ki * p.Integral * p.Scale,
		D:     p.Kd * p.Derivative * p.Scale,
		Error: p.Error,
	}
}

// Reset clears the accumulated state without touching gains or target
func (p *PIDController) Reset() {
	p.Error = 0
	p.LastError = 0
	p.Integral = 0
	p.Derivative = 0
	p.OutputRaw = 0
	p.OutputCmd = 0
}

// SetGains updates the PID gains
func (p *PIDController) SetGains(kp, ki, kd float64) {
	p.Kp = kp
	p.Ki = ki
	p.Kd = kd
}

// GetState returns the controller state for debugging
func (p *PIDController) GetState() map[string]float64 {
	enabled := 0.0
	if p.Enabled {
		enabled = 1
	}
	terms := p.Terms()
	return map[string]float64{
		"enabled":         enabled,
		"kp":              p.Kp,
		"ki":              p.Ki,
		"kd":              p.Kd,
		"target":          p.Target,
		"sensor":          p.Sensor,
		"error":           p.Error,
		"last_error":      p.LastError,
		"integral":        p.Integral,
		"integral_limit":  p.IntegralLimit,
		"derivative":      p.Derivative,
		"error_threshold": p.ErrorThreshold,
		"output_raw":      p.OutputRaw,
		"output_cmd":      float64(p.OutputCmd),
		"p_term":          terms.P,
		"i_term":          terms.I,
		"d_term":          terms.D,
	}
}

// ValidateGains checks if the current gains are reasonable for a
// potentiometer lock. The result is advisory.
func (p *PIDController) ValidateGains() []string {
	var warnings []string

	if p.Kp < 0 || p.Kp > 0.05 {
		warnings = append(warnings, "Kp should typically be between 0-0.05")
	}

	if p.Ki < 0 || p.Ki > 0.005 {
		warnings = append(warnings, "Ki should typically be between 0-0.005")
	}

	if p.Kd < 0 || p.Kd > 0.1 {
		warnings = append(warnings, "Kd should typically be between 0-0.1")
	}

	// Check for potential oscillation
	if p.Kp > 0.02 && p.Ki > 0.001 {
		warnings = append(warnings, "High Kp with high Ki may cause oscillation")
	}

	return warnings
}

// clamp limits a value between min and max
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
