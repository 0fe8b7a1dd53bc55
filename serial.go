package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// SerialOperator reads joystick state from a radio bridge on a serial port.
// The bridge prints one frame per line as space separated Name=value pairs,
// e.g. "Ch3=-45 Ch4=0 Btn6U=1". Channels not mentioned keep their last value.
type SerialOperator struct {
	mu      sync.RWMutex
	axes    map[string]int
	buttons map[string]bool
	frames  int
}

// NewSerialOperator creates an operator with everything centered and released
func NewSerialOperator() *SerialOperator {
	return &SerialOperator{
		axes:    make(map[string]int),
		buttons: make(map[string]bool),
	}
}

// OpenSerialOperator opens the bridge port and reads frames until ctx is
// canceled
func OpenSerialOperator(ctx context.Context, cfg HardwareConfig) (*SerialOperator, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
	}
	port, err := serial.Open(cfg.SerialPort, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.SerialPort, err)
	}

	op := NewSerialOperator()
	go func() {
		<-ctx.Done()
		port.Close()
	}()
	go func() {
		if err := op.Consume(port); err != nil && ctx.Err() == nil {
			log.Printf("Warning: serial operator on %s stopped: %v", cfg.SerialPort, err)
		}
	}()

	log.Printf("Operator bridge open on %s at %d baud", cfg.SerialPort, cfg.BaudRate)
	return op, nil
}

// Consume applies frames from r until it is exhausted
func (o *SerialOperator) Consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		axes, buttons, err := parseOperatorFrame(scanner.Text())
		if err != nil {
			logDebugf("Skipping operator frame: %v", err)
			continue
		}
		o.apply(axes, buttons)
	}
	return scanner.Err()
}

func (o *SerialOperator) apply(axes map[string]int, buttons map[string]bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range axes {
		o.axes[k] = v
	}
	for k, v := range buttons {
		o.buttons[k] = v
	}
	o.frames++
}

// Axis returns the last value of a joystick channel
func (o *SerialOperator) Axis(channel string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.axes[channel]
}

// Button returns whether a button was pressed in the last frame that
// mentioned it
func (o *SerialOperator) Button(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.buttons[id]
}

// Frames returns how many frames have been applied
func (o *SerialOperator) Frames() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.frames
}

// parseOperatorFrame decodes one bridge line. Names starting with "Ch" are
// axes clamped to the motor range; names starting with "Btn" are buttons.
func parseOperatorFrame(line string) (map[string]int, map[string]bool, error) {
	axes := make(map[string]int)
	buttons := make(map[string]bool)

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("empty frame")
	}
	for _, field := range fields {
		name, raw, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("malformed field %q", field)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", name, err)
		}
		switch {
		case strings.HasPrefix(name, "Ch"):
			axes[name] = clampCommand(v)
		case strings.HasPrefix(name, "Btn"):
			buttons[name] = v != 0
		default:
			return nil, nil, fmt.Errorf("unknown channel %s", name)
		}
	}
	return axes, buttons, nil
}
