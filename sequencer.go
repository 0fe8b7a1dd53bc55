package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// RunFor calls tick every period until d has elapsed. The elapsed time is
// checked before each tick, so a zero duration runs nothing. It returns
// early with the first tick error or when ctx is canceled.
func RunFor(ctx context.Context, d, period time.Duration, tick func() error) error {
	start := time.Now()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for time.Since(start) < d {
		if err := tick(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Sequencer plays autonomous routines against the actuators and drive
type Sequencer struct {
	actuators map[string]*Actuator
	drive     *Drive
	period    time.Duration
	metrics   *Metrics
}

// NewSequencer creates a sequencer that ticks every period
func NewSequencer(actuators []*Actuator, drive *Drive, period time.Duration, metrics *Metrics) *Sequencer {
	s := &Sequencer{
		actuators: make(map[string]*Actuator),
		drive:     drive,
		period:    period,
		metrics:   metrics,
	}
	for _, a := range actuators {
		s.actuators[a.Name()] = a
	}
	return s
}

// Run plays every step of routine in order. Steps with a zero duration apply
// their actions once.
func (s *Sequencer) Run(ctx context.Context, routine RoutineConfig) error {
	runID := uuid.NewString()
	log.Printf("Starting routine %s (run %s, %d steps)", routine.Name, runID, len(routine.Steps))
	start := time.Now()

	for i, step := range routine.Steps {
		tick := func() error { return s.applyStep(step) }

		if step.Duration == 0 {
			if err := tick(); err != nil {
				return fmt.Errorf("routine %s step %d: %w", routine.Name, i, err)
			}
		} else if err := RunFor(ctx, step.Duration, s.period, tick); err != nil {
			return fmt.Errorf("routine %s step %d: %w", routine.Name, i, err)
		}

		s.metrics.RecordStep(routine.Name)
		logDebugf("routine %s: step %d done after %v", routine.Name, i, time.Since(start))
	}

	log.Printf("Routine %s finished in %v (run %s)", routine.Name, time.Since(start).Round(time.Millisecond), runID)
	return nil
}

func (s *Sequencer) applyStep(step StepConfig) error {
	if step.Stop {
		return s.StopAll()
	}
	for _, act := range step.Actions {
		if err := s.apply(act); err != nil {
			return err
		}
	}
	return nil
}

// StopAll zeroes every motor immediately
func (s *Sequencer) StopAll() error {
	for _, a := range s.actuators {
		if err := a.Stop(); err != nil {
			return err
		}
	}
	if s.drive != nil {
		return s.drive.Stop()
	}
	return nil
}

func (s *Sequencer) apply(act ActionConfig) error {
	if act.Actuator == DriveName {
		if s.drive == nil {
			return fmt.Errorf("no drive configured")
		}
		return s.applyDrive(act)
	}

	a, ok := s.actuators[act.Actuator]
	if !ok {
		return fmt.Errorf("unknown actuator %s", act.Actuator)
	}

	if act.Unlock {
		a.Unlock()
	}
	switch act.Lock {
	case "":
	case LockCurrentName:
		a.LockCurrent()
	case LockManualName:
		a.Lock()
	default:
		if err := a.LockTo(act.Lock); err != nil {
			return err
		}
	}
	if act.Move != nil {
		return a.Move(*act.Move, act.Immediate)
	}
	return nil
}

func (s *Sequencer) applyDrive(act ActionConfig) error {
	if act.Unlock {
		s.drive.Unlock()
	}
	if act.Lock != "" {
		s.drive.Lock()
	}
	if act.Drive != nil {
		return s.drive.DriveMove(act.Drive.X, act.Drive.Y, act.Immediate)
	}
	return nil
}
