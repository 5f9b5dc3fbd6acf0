// Package protocol defines the WebSocket message types exchanged with the
// DOA stream clients and the uplink collector.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-das/internal/beamform"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Array → collector
	TypeDOA   MessageType = "doa"   // Smoothed direction of arrival
	TypeSweep MessageType = "sweep" // Full angle/power curve

	// Collector → array
	TypeRange MessageType = "range" // Replace the sweep range

	// Bidirectional
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// DOAData contains direction of arrival information
type DOAData struct {
	Angle         float64 `json:"angle"`
	SmoothedAngle float64 `json:"smoothed_angle"`
	PeakRMS       float64 `json:"peak_rms"`
	Contrast      float64 `json:"contrast"`
	Confidence    float64 `json:"confidence"`
}

// NewDOAMessage creates a DOA message
func NewDOAMessage(data DOAData) (*Message, error) {
	return NewMessage(TypeDOA, data)
}

// GetDOAData extracts DOA data from a message
func (m *Message) GetDOAData() (*DOAData, error) {
	var data DOAData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SweepData carries one full sweep
type SweepData struct {
	Range  beamform.Range   `json:"range"`
	Points []beamform.Point `json:"points"`
}

// NewSweepMessage creates a sweep message
func NewSweepMessage(r beamform.Range, points []beamform.Point) (*Message, error) {
	return NewMessage(TypeSweep, SweepData{Range: r, Points: points})
}

// GetSweepData extracts sweep data from a message
func (m *Message) GetSweepData() (*SweepData, error) {
	var data SweepData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// NewRangeMessage creates a range update message
func NewRangeMessage(r beamform.Range) (*Message, error) {
	return NewMessage(TypeRange, r)
}

// GetRange extracts and validates a sweep range from a message
func (m *Message) GetRange() (beamform.Range, error) {
	var r beamform.Range
	if m.Data == nil {
		return r, fmt.Errorf("%w: range message without data", beamform.ErrConfiguration)
	}
	if err := m.ParseData(&r); err != nil {
		return r, fmt.Errorf("%w: %v", beamform.ErrConfiguration, err)
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

// ErrorData reports a rejected request back to the peer
type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: err.Error()})
}
