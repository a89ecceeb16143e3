// Package messaging carries the saga's CloudEvents over Pub/Sub: publishing
// with acknowledgement, pull and push consumption, in-process retry,
// dead-lettering and duplicate suppression.
package messaging

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Message is a transport message, independent of how it was received.
type Message struct {
	ID         string
	Key        string
	Data       []byte
	Attributes map[string]string
	// Attempt is the broker's delivery attempt when known, otherwise 0.
	Attempt int
}

// Delivery is a decoded event handed to a handler.
type Delivery struct {
	Event     cloudevents.Event
	Key       string
	MessageID string
	// Attempt counts in-process attempts, starting at 1.
	Attempt int
}

// DecodeData unmarshals the event payload into v.
func (d Delivery) DecodeData(v any) error {
	return d.Event.DataAs(v)
}

// HandlerFunc processes one delivery. A nil error acknowledges the message.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Outcome is what the transport should do with a message.
type Outcome int

const (
	Ack Outcome = iota
	Nack
)

func (o Outcome) String() string {
	if o == Ack {
		return "ack"
	}
	return "nack"
}
