package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// Frame IDs above a base that still belong to it
const canPortSpan = 0x100

// Motor frames must leave the socket within one control cycle
const canWriteTimeout = 10 * time.Millisecond

// FrameTransmitter sends CAN frames
type FrameTransmitter interface {
	TransmitFrame(ctx context.Context, frame can.Frame) error
}

// CANBus drives motor controllers and reads potentiometer nodes over CAN.
// Motor commands go out as frames at MotorFrameBase+port; sensor nodes
// broadcast at SensorFrameBase+pin and the latest value is served from a
// snapshot so reads never block.
type CANBus struct {
	tx         FrameTransmitter
	motorBase  uint32
	sensorBase uint32

	mu     sync.RWMutex
	analog map[int]int
}

// NewCANBus creates a bus on top of any transmitter
func NewCANBus(tx FrameTransmitter, motorBase, sensorBase uint32) *CANBus {
	return &CANBus{
		tx:         tx,
		motorBase:  motorBase,
		sensorBase: sensorBase,
		analog:     make(map[int]int),
	}
}

// DialCANBus opens a SocketCAN interface and starts receiving sensor frames
// until ctx is canceled
func DialCANBus(ctx context.Context, cfg HardwareConfig) (*CANBus, error) {
	conn, err := socketcan.DialContext(ctx, "can", cfg.CANInterface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", cfg.CANInterface, err)
	}

	bus := NewCANBus(socketcan.NewTransmitter(conn), cfg.MotorFrameBase, cfg.SensorFrameBase)

	recv := socketcan.NewReceiver(conn)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		for recv.Receive() {
			bus.HandleFrame(recv.Frame())
		}
		if ctx.Err() == nil {
			log.Printf("Warning: CAN receiver on %s stopped", cfg.CANInterface)
		}
	}()

	log.Printf("CAN bus open on %s (motors: 0x%X, sensors: 0x%X)",
		cfg.CANInterface, cfg.MotorFrameBase, cfg.SensorFrameBase)
	return bus, nil
}

// SetMotor transmits one motor command frame
func (b *CANBus) SetMotor(port int, cmd int, immediate bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), canWriteTimeout)
	defer cancel()

	frame := encodeMotorFrame(b.motorBase, port, clampCommand(cmd), immediate)
	if err := b.tx.TransmitFrame(ctx, frame); err != nil {
		return fmt.Errorf("transmit frame 0x%X: %w", frame.ID, err)
	}
	return nil
}

// ReadAnalog returns the latest reading broadcast for pin
func (b *CANBus) ReadAnalog(pin int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.analog[pin]
}

// HandleFrame stores sensor frames and ignores everything else
func (b *CANBus) HandleFrame(frame can.Frame) {
	pin, value, ok := decodeSensorFrame(b.sensorBase, frame)
	if !ok {
		return
	}
	b.mu.Lock()
	b.analog[pin] = value
	b.mu.Unlock()
}

// encodeMotorFrame packs an int8 command and the immediate flag
func encodeMotorFrame(base uint32, port, cmd int, immediate bool) can.Frame {
	var f can.Frame
	f.ID = base + uint32(port)
	f.Length = 2
	f.Data[0] = byte(int8(cmd))
	if immediate {
		f.Data[1] = 1
	}
	return f
}

// decodeMotorFrame is the inverse of encodeMotorFrame
func decodeMotorFrame(base uint32, f can.Frame) (port, cmd int, immediate bool, ok bool) {
	if f.ID < base || f.ID >= base+canPortSpan || f.Length < 2 {
		return 0, 0, false, false
	}
	return int(f.ID - base), int(int8(f.Data[0])), f.Data[1] != 0, true
}

// decodeSensorFrame reads a little endian uint16 pot value
func decodeSensorFrame(base uint32, f can.Frame) (pin, value int, ok bool) {
	if f.ID < base || f.ID >= base+canPortSpan || f.Length < 2 {
		return 0, 0, false
	}
	return int(f.ID - base), int(binary.LittleEndian.Uint16(f.Data[:2])), true
}
