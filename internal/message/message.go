package message

import (
	"encoding/json"
	"time"
)

// EventMessage is the JSONL envelope pushed to stream subscribers for each
// verified webhook event.
type EventMessage struct {
	Type       string          `json:"type"`
	Event      string          `json:"event"`
	DeliveryID string          `json:"delivery_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Truncated  bool            `json:"truncated,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// SubscribeMessage is sent by a stream client to choose event types.
// An empty Events list subscribes to everything.
type SubscribeMessage struct {
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

const (
	TypeEvent     = "event"
	TypeSubscribe = "subscribe"
)
