package main

import (
	"fmt"
	"log"
	"sync"
)

// DriveName is the name the drive base is addressed by in routines and the API
const DriveName = "drive"

// Drive is the four wheel X-drive. It has no position loop: while locked it
// follows the joysticks, otherwise a script drives it through DriveMove.
type Drive struct {
	cfg     DriveConfig
	hw      Hardware
	metrics *Metrics

	mu            sync.Mutex
	locked        bool
	commands      [4]int
	writeFailures int
}

// NewDrive creates a locked drive base
func NewDrive(cfg DriveConfig, hw Hardware, metrics *Metrics) *Drive {
	return &Drive{
		cfg:     cfg,
		hw:      hw,
		metrics: metrics,
		locked:  true,
	}
}

// Name returns DriveName
func (d *Drive) Name() string {
	return DriveName
}

func (d *Drive) ports() [4]int {
	return [4]int{d.cfg.Northeast, d.cfg.Northwest, d.cfg.Southeast, d.cfg.Southwest}
}

// Tick drives from the strafe and forward sticks while locked. Operator
// commands are always immediate.
func (d *Drive) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.locked {
		return
	}

	x := d.hw.Operator.Axis(d.cfg.AxisX)
	y := d.hw.Operator.Axis(d.cfg.AxisY)
	_ = d.driveMove(x, y, true)
}

// DriveMove maps strafe x and forward y onto the four wheels
func (d *Drive) DriveMove(x, y int, immediate bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driveMove(x, y, immediate)
}

// driveMove writes all four wheels. After maxWriteFailures consecutive
// failures it commands 0 until a write succeeds.
func (d *Drive) driveMove(x, y int, immediate bool) error {
	// Northeast and southeast share y-x, northwest and southwest share y+x
	cmds := [4]int{MapSpeed(y - x), MapSpeed(y + x), MapSpeed(y - x), MapSpeed(y + x)}
	if d.writeFailures >= maxWriteFailures {
		cmds = [4]int{}
		immediate = true
	}

	var failed error
	for i, port := range d.ports() {
		if err := d.hw.Motors.SetMotor(port, cmds[i], immediate); err != nil {
			failed = fmt.Errorf("drive: %w", err)
			continue
		}
		d.commands[i] = cmds[i]
	}

	if failed != nil {
		d.writeFailures++
		d.metrics.RecordError("motor_write")
		log.Printf("drive: motor write failed (attempt %d/%d): %v", d.writeFailures, maxWriteFailures, failed)
		return failed
	}
	d.writeFailures = 0
	return nil
}

// Stop zeroes every wheel immediately
func (d *Drive) Stop() error {
	return d.DriveMove(0, 0, true)
}

// Lock hands the drive back to the operator
func (d *Drive) Lock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = true
}

// Unlock gives a script exclusive control of the drive
func (d *Drive) Unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
}

// Locked reports whether the operator loop owns the drive
func (d *Drive) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// Status returns the wheel commands in NE, NW, SE, SW order
func (d *Drive) Status() ActuatorStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ActuatorStatus{
		Name:     DriveName,
		Locked:   d.locked,
		Position: PositionUnknown,
		Commands: append([]int(nil), d.commands[:]...),
	}
}
