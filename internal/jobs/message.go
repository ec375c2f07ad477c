package jobs

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	TypeOrderCreated  Type = "order_created"
	TypeStatusChanged Type = "status_changed"
)

// Message is the queue payload for a notification job.
type Message struct {
	Type          Type   `json:"type"`
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Decode parses and checks a queue body.
func Decode(body string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return Message{}, fmt.Errorf("invalid message body: missing order_id")
	}
	switch msg.Type {
	case TypeOrderCreated, TypeStatusChanged:
	default:
		return Message{}, fmt.Errorf("invalid message body: unknown type %q", msg.Type)
	}
	return msg, nil
}
