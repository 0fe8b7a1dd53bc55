package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// TuneState is the lifecycle of a relay autotune session
type TuneState int

const (
	TuneIdle TuneState = iota
	TuneRunning
	TuneConverged
	TuneCanceled
)

func (s TuneState) String() string {
	switch s {
	case TuneIdle:
		return "idle"
	case TuneRunning:
		return "running"
	case TuneConverged:
		return "converged"
	case TuneCanceled:
		return "canceled"
	}
	return fmt.Sprintf("TuneState(%d)", int(s))
}

// ControlType selects the gain table applied to Ku and Pu
type ControlType int

const (
	ControlPI ControlType = iota
	ControlPID
)

// ParseControlType converts "pi" or "pid"
func ParseControlType(s string) (ControlType, error) {
	switch s {
	case "pi":
		return ControlPI, nil
	case "pid":
		return ControlPID, nil
	}
	return ControlPI, fmt.Errorf("unknown control type %q", s)
}

const maxPeaks = 10

// ErrTuneTimeout is returned when a session does not converge in time
var ErrTuneTimeout = errors.New("autotune did not converge")

// TuneResult holds the ultimate gain and period and the derived gains
type TuneResult struct {
	Ku float64 `json:"ku"`
	Pu float64 `json:"pu"` // seconds
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Autotuner drives a relay around Setpoint and measures the resulting
// oscillation. Feed it one input per call to Step; it evaluates at most once
// per sample time.
type Autotuner struct {
	Setpoint    float64
	NoiseBand   float64
	OutputStep  float64
	Reversed    bool
	ControlType ControlType

	state       TuneState
	output      float64
	outputStart float64

	nLookBack  int
	sampleTime time.Duration
	lastTime   time.Time
	history    []float64

	peakType    int
	peakCount   int
	peaks       [maxPeaks]float64
	peak1       time.Time
	peak2       time.Time
	justChanged bool
	absMax      float64
	absMin      float64

	ku float64
	pu float64
}

// NewAutotuner creates an idle tuner whose relay is centered on output
func NewAutotuner(output float64, reversed bool) *Autotuner {
	t := &Autotuner{
		NoiseBand:   0.5,
		OutputStep:  30,
		Reversed:    reversed,
		ControlType: ControlPI,
		output:      output,
	}
	t.SetLookback(10 * time.Second)
	return t
}

// SetLookback sizes the peak detection window. Windows under 25s sample every
// 250ms; longer ones keep 100 samples and stretch the sample time.
func (t *Autotuner) SetLookback(d time.Duration) {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	if secs < 25 {
		t.nLookBack = secs * 4
		t.sampleTime = 250 * time.Millisecond
	} else {
		t.nLookBack = 100
		t.sampleTime = time.Duration(secs) * 10 * time.Millisecond
	}
	t.history = make([]float64, 0, t.nLookBack)
}

// Lookback returns the effective window length
func (t *Autotuner) Lookback() time.Duration {
	return time.Duration(t.nLookBack) * t.sampleTime
}

// SampleTime returns the interval between evaluated samples
func (t *Autotuner) SampleTime() time.Duration {
	return t.sampleTime
}

// State returns the session state
func (t *Autotuner) State() TuneState {
	return t.state
}

// Output returns the relay output to apply to the plant
func (t *Autotuner) Output() float64 {
	return t.output
}

// Cancel stops the session without computing gains
func (t *Autotuner) Cancel() {
	if t.state == TuneRunning {
		t.output = t.outputStart
	}
	t.state = TuneCanceled
}

// Step feeds one input sample taken at now. It returns true once the
// session has converged.
func (t *Autotuner) Step(now time.Time, input float64) bool {
	switch t.state {
	case TuneConverged:
		return true
	case TuneCanceled:
		return false
	}

	if t.peakCount >= maxPeaks && t.state == TuneRunning {
		t.finish()
		return true
	}

	if !t.lastTime.IsZero() && now.Sub(t.lastTime) < t.sampleTime {
		return false
	}
	t.lastTime = now

	if t.state == TuneIdle {
		t.peakType = 0
		t.peakCount = 0
		t.justChanged = false
		t.absMax = input
		t.absMin = input
		t.history = t.history[:0]
		t.state = TuneRunning
		t.outputStart = t.output
		t.output = t.outputStart + t.OutputStep
	} else {
		t.absMax = math.Max(t.absMax, input)
		t.absMin = math.Min(t.absMin, input)
	}

	// Relay
	above := input > t.Setpoint+t.NoiseBand
	below := input < t.Setpoint-t.NoiseBand
	if t.Reversed {
		above, below = below, above
	}
	if above {
		t.output = t.outputStart - t.OutputStep
	} else if below {
		t.output = t.outputStart + t.OutputStep
	}

	isMax, isMin := true, true
	for _, v := range t.history {
		isMax = isMax && input > v
		isMin = isMin && input < v
	}
	filled := len(t.history) == t.nLookBack
	if filled {
		copy(t.history[1:], t.history[:len(t.history)-1])
		t.history[0] = input
	} else {
		t.history = append([]float64{input}, t.history...)
	}
	// Peaks are only trusted once the window holds real samples
	if !filled {
		return false
	}

	switch {
	case isMax:
		if t.peakType == 0 {
			t.peakType = 1
		}
		if t.peakType == -1 {
			t.peakType = 1
			t.justChanged = true
			t.peak2 = t.peak1
		}
		t.peak1 = now
		if t.peakCount < maxPeaks {
			t.peaks[t.peakCount] = input
		}
	case isMin:
		if t.peakType == 0 {
			t.peakType = -1
		}
		if t.peakType == 1 {
			t.peakType = -1
			t.peakCount++
			t.justChanged = true
		}
		if t.peakCount < maxPeaks {
			t.peaks[t.peakCount] = input
		}
	}

	if t.justChanged && t.peakCount > 2 {
		c := t.peakCount
		avgSeparation := (math.Abs(t.peaks[c-1]-t.peaks[c-2]) + math.Abs(t.peaks[c-2]-t.peaks[c-3])) / 2
		if avgSeparation < 0.05*(t.absMax-t.absMin) {
			t.finish()
			return true
		}
	}
	t.justChanged = false
	return false
}

func (t *Autotuner) finish() {
	t.output = t.outputStart
	t.ku = 4 * (2 * t.OutputStep) / ((t.absMax - t.absMin) * math.Pi)
	t.pu = t.peak1.Sub(t.peak2).Seconds()
	t.state = TuneConverged
}

// Ku returns the ultimate gain
func (t *Autotuner) Ku() float64 { return t.ku }

// Pu returns the ultimate period in seconds
func (t *Autotuner) Pu() float64 { return t.pu }

// Kp returns the proportional gain for the selected control type
func (t *Autotuner) Kp() float64 {
	if t.ControlType == ControlPID {
		return 0.6 * t.ku
	}
	return 0.4 * t.ku
}

// Ki returns the integral gain, Kc/Ti
func (t *Autotuner) Ki() float64 {
	if t.pu == 0 {
		return 0
	}
	if t.ControlType == ControlPID {
		return 1.2 * t.ku / t.pu
	}
	return 0.48 * t.ku / t.pu
}

// Kd returns the derivative gain, Kc*Td
func (t *Autotuner) Kd() float64 {
	if t.ControlType == ControlPID {
		return 0.075 * t.ku * t.pu
	}
	return 0
}

// Result returns the measured and derived values
func (t *Autotuner) Result() TuneResult {
	return TuneResult{Ku: t.Ku(), Pu: t.Pu(), Kp: t.Kp(), Ki: t.Ki(), Kd: t.Kd()}
}

// TuneSample is one evaluated point of a tuning session
type TuneSample struct {
	Input  float64
	Output float64
}

// RunAutotune takes an actuator out of its control loop and relays its motors
// around setpoint until the oscillation converges, cfg.Timeout passes or ctx
// is canceled. The actuator is stopped and handed back to its control loop on
// return.
func RunAutotune(ctx context.Context, a *Actuator, cfg AutotuneConfig, setpoint float64, metrics *Metrics) (TuneResult, []TuneSample, error) {
	controlType, err := ParseControlType(cfg.ControlType)
	if err != nil {
		return TuneResult{}, nil, err
	}

	tuner := NewAutotuner(0, a.cfg.Reversed)
	tuner.Setpoint = setpoint
	tuner.NoiseBand = cfg.NoiseBand
	tuner.OutputStep = cfg.OutputStep
	tuner.ControlType = controlType
	tuner.SetLookback(cfg.Lookback)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	a.Unlock()
	defer func() {
		if err := a.Stop(); err != nil {
			log.Printf("Warning: failed to stop %s after autotune: %v", a.Name(), err)
		}
		a.LockCurrent()
	}()

	log.Printf("Autotuning %s around %.0f (step: %.0f, lookback: %v, sample: %v)",
		a.Name(), setpoint, tuner.OutputStep, tuner.Lookback(), tuner.SampleTime())

	ticker := time.NewTicker(tuner.SampleTime())
	defer ticker.Stop()

	// Samples are stamped on the nominal grid so ticker jitter never drops one
	start := time.Now()
	var trace []TuneSample
	for n := 0; ; n++ {
		input := float64(a.ReadSensor(0))
		done := tuner.Step(start.Add(time.Duration(n)*tuner.SampleTime()), input)
		trace = append(trace, TuneSample{Input: input, Output: tuner.Output()})

		if done {
			result := tuner.Result()
			metrics.ObserveAutotune(a.Name(), result)
			log.Printf("Autotune %s converged: Ku=%.4f Pu=%.2fs Kp=%.5f Ki=%.5f Kd=%.5f",
				a.Name(), result.Ku, result.Pu, result.Kp, result.Ki, result.Kd)
			return result, trace, nil
		}

		if err := a.Move(int(math.Round(tuner.Output())), true); err != nil {
			tuner.Cancel()
			return TuneResult{}, trace, fmt.Errorf("autotune %s: %w", a.Name(), err)
		}

		select {
		case <-ctx.Done():
			tuner.Cancel()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return TuneResult{}, trace, ErrTuneTimeout
			}
			return TuneResult{}, trace, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ApplyGains loads r into every loop of a, locks it to position and holds
// there for d. It returns the absolute error of the first loop at the end of
// the hold.
func ApplyGains(ctx context.Context, a *Actuator, r TuneResult, position string, d, period time.Duration) (float64, error) {
	kp, ki, kd := a.Gains()
	a.SetGains(r.Kp, r.Ki, r.Kd)
	log.Printf("Applied gains to %s: Kp %.5f->%.5f Ki %.5f->%.5f Kd %.5f->%.5f",
		a.Name(), kp, r.Kp, ki, r.Ki, kd, r.Kd)

	if err := a.LockTo(position); err != nil {
		return 0, err
	}
	if err := RunFor(ctx, d, period, func() error {
		a.Tick()
		return nil
	}); err != nil {
		return 0, err
	}
	return math.Abs(a.Targets()[0] - float64(a.ReadSensor(0))), nil
}
