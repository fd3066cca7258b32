package entity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidValue is returned when a written value cannot be decoded
var ErrInvalidValue = errors.New("invalid value")

// Sensor is a read-only numeric entity
type Sensor struct {
	base
	mu    sync.RWMutex
	state float32
}

// NewSensor creates a sensor with value 0
func NewSensor(id, name string) *Sensor {
	return &Sensor{base: base{id: id, name: name}}
}

// State returns the current reading
func (s *Sensor) State() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Publish sets a new reading and notifies observers
func (s *Sensor) Publish(v float32) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
	s.notify(EncodeFloat(v))
}

func (s *Sensor) Value() []byte {
	return EncodeFloat(s.State())
}

// BinarySensor is a read-only on/off entity
type BinarySensor struct {
	base
	mu    sync.RWMutex
	state bool
}

// NewBinarySensor creates a binary sensor in the off state
func NewBinarySensor(id, name string) *BinarySensor {
	return &BinarySensor{base: base{id: id, name: name}}
}

// State returns the current state
func (s *BinarySensor) State() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Publish sets a new state and notifies observers
func (s *BinarySensor) Publish(v bool) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
	s.notify(EncodeBool(v))
}

func (s *BinarySensor) Value() []byte {
	return EncodeBool(s.State())
}

// TextSensor is a read-only text entity
type TextSensor struct {
	base
	mu    sync.RWMutex
	state string
}

// NewTextSensor creates a text sensor with an empty value
func NewTextSensor(id, name string) *TextSensor {
	return &TextSensor{base: base{id: id, name: name}}
}

// State returns the current text
func (s *TextSensor) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Publish sets new text and notifies observers
func (s *TextSensor) Publish(v string) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
	s.notify([]byte(v))
}

func (s *TextSensor) Value() []byte {
	return []byte(s.State())
}

// EncodeFloat encodes v as little-endian IEEE 754 float32
func EncodeFloat(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

// DecodeFloat decodes a little-endian float32
func DecodeFloat(b []byte) (float32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: float needs 4 bytes, got %d", ErrInvalidValue, len(b))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// EncodeBool encodes v as little-endian uint16 0 or 1
func EncodeBool(v bool) []byte {
	b := make([]byte, 2)
	if v {
		binary.LittleEndian.PutUint16(b, 1)
	}
	return b
}

// DecodeBool accepts a single byte or a little-endian uint16; any non-zero value is true
func DecodeBool(b []byte) (bool, error) {
	switch len(b) {
	case 1:
		return b[0] != 0, nil
	case 2:
		return binary.LittleEndian.Uint16(b) != 0, nil
	default:
		return false, fmt.Errorf("%w: boolean needs 1 or 2 bytes, got %d", ErrInvalidValue, len(b))
	}
}
