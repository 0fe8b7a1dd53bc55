package main

import (
	"fmt"
	"math"
)

// OutputShaper adjusts the clamped PID command of a holding actuator before
// it is mapped through the speed curve. It may also ask for the command to skip the
// slew limiter.
type OutputShaper interface {
	Shape(raw, err float64, position string) (out float64, immediate bool)
}

type noShaping struct{}

func (noShaping) Shape(raw, _ float64, _ string) (float64, bool) {
	return raw, false
}

// StictionBoost multiplies the output while the actuator holds Position and
// is further than Threshold from it. Arms resting on a hard stop need the
// extra push to overcome gravity and friction, and the boosted command is
// sent immediately.
type StictionBoost struct {
	Position  string
	Threshold float64
	Gain      float64
}

func (s StictionBoost) Shape(raw, err float64, position string) (float64, bool) {
	if position == s.Position && math.Abs(err) > s.Threshold {
		return raw * s.Gain, true
	}
	return raw, false
}

// ErrorBandScale amplifies the output far from the target and softens it
// close to the target, so grippers close hard and then settle without
// chattering.
type ErrorBandScale struct {
	Far         float64
	FarGain     float64
	Near        float64
	NearDivisor float64
}

func (b ErrorBandScale) Shape(raw, err float64, _ string) (float64, bool) {
	abs := math.Abs(err)
	switch {
	case abs > b.Far:
		return raw * b.FarGain, false
	case abs < b.Near && b.NearDivisor != 0:
		return raw / b.NearDivisor, false
	}
	return raw, false
}

// newShaper builds the shaper described by cfg
func newShaper(cfg ShapingConfig) (OutputShaper, error) {
	switch cfg.Kind {
	case "", ShapingNone:
		return noShaping{}, nil
	case ShapingStiction:
		return StictionBoost{
			Position:  cfg.Position,
			Threshold: cfg.Threshold,
			Gain:      cfg.Gain,
		}, nil
	case ShapingBand:
		return ErrorBandScale{
			Far:         cfg.Far,
			FarGain:     cfg.FarGain,
			Near:        cfg.Near,
			NearDivisor: cfg.NearDivisor,
		}, nil
	default:
		return nil, fmt.Errorf("unknown shaping kind %q", cfg.Kind)
	}
}
