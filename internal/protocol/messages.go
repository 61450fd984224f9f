// ABOUTME: Bridge IPC message type definitions
// ABOUTME: Defines the JSON envelope and payloads of the timeSync.ntp operation
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types
const (
	TypeNTP       = "timeSync.ntp"
	TypeNTPResult = "timeSync.ntp/result"
	TypeError     = "error"
)

// Path is the websocket endpoint served by the bridge host
const Path = "/classclock"

// Message is the top-level wrapper for all bridge messages
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NTPRequest asks the bridge host for one NTP exchange
type NTPRequest struct {
	Host      string `json:"host"`
	Port      int    `json:"port,omitempty"`      // 0 = 123
	TimeoutMs int64  `json:"timeoutMs,omitempty"` // 0 = runner default
}

// NTPResult is the measured sample, all values in milliseconds
type NTPResult struct {
	OffsetMs      int64 `json:"offsetMs"`
	RTTMs         int64 `json:"rttMs"`
	ServerEpochMs int64 `json:"serverEpochMs"`
	MeasuredAt    int64 `json:"measuredAt"`
}

// ErrorPayload carries a classified failure
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// New builds a message with payload encoded as JSON
func New(msgType, id string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, ID: id, Payload: data}, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}
