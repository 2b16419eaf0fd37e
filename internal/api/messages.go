// Package api defines the JSON payloads exchanged with display frontends.
package api

import (
	"github.com/statline/statline/internal/gpu"
	"github.com/statline/statline/internal/monitor"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string     `json:"type"`
	IntervalMS int        `json:"interval_ms"`
	Strategy   string     `json:"gpu_strategy"`
	Engines    []string   `json:"gpu_engines,omitempty"`
	Cards      []gpu.Card `json:"gpu_cards,omitempty"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int, strategy string, engines []string, cards []gpu.Card) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: intervalMS,
		Strategy:   strategy,
		Engines:    engines,
		Cards:      cards,
	}
}

// StatsMessage wraps a snapshot for transport. It is sent only when the
// formatted line changed since the previous tick.
type StatsMessage struct {
	Type string `json:"type"`
	monitor.Snapshot
}

// NewStatsMessage constructs a stats payload.
func NewStatsMessage(snapshot monitor.Snapshot) StatsMessage {
	return StatsMessage{
		Type:     "stats",
		Snapshot: snapshot,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
