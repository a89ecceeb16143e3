package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvents binary-mode attribute names on Pub/Sub messages.
const (
	AttrID          = "ce-id"
	AttrType        = "ce-type"
	AttrSource      = "ce-source"
	AttrSpecVersion = "ce-specversion"
	AttrSubject     = "ce-subject"
	AttrTime        = "ce-time"
	AttrContentType = "content-type"
)

// NewEvent builds a JSON CloudEvent with a fresh id. The subject carries the
// ordering key.
func NewEvent(source, eventType, subject string, data any) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(source)
	e.SetType(eventType)
	e.SetSubject(subject)
	e.SetTime(time.Now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, fmt.Errorf("failed to encode %s event data: %w", eventType, err)
	}
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("invalid %s event: %w", eventType, err)
	}
	return e, nil
}

// Encode maps an event onto message data and attributes.
func Encode(e cloudevents.Event) ([]byte, map[string]string) {
	attrs := map[string]string{
		AttrID:          e.ID(),
		AttrType:        e.Type(),
		AttrSource:      e.Source(),
		AttrSpecVersion: e.SpecVersion(),
		AttrContentType: e.DataContentType(),
	}
	if e.Subject() != "" {
		attrs[AttrSubject] = e.Subject()
	}
	if !e.Time().IsZero() {
		attrs[AttrTime] = e.Time().Format(time.RFC3339Nano)
	}
	return e.Data(), attrs
}

// Decode rebuilds the event carried by a binary-mode message.
func Decode(data []byte, attrs map[string]string) (cloudevents.Event, error) {
	specVersion := attrs[AttrSpecVersion]
	if specVersion != cloudevents.VersionV1 && specVersion != cloudevents.VersionV03 {
		return cloudevents.Event{}, fmt.Errorf("unsupported %s attribute %q", AttrSpecVersion, specVersion)
	}
	e := cloudevents.NewEvent(specVersion)
	e.SetID(attrs[AttrID])
	e.SetType(attrs[AttrType])
	e.SetSource(attrs[AttrSource])
	if subject, ok := attrs[AttrSubject]; ok {
		e.SetSubject(subject)
	}
	if raw, ok := attrs[AttrTime]; ok {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return e, fmt.Errorf("invalid %s attribute %q: %w", AttrTime, raw, err)
		}
		e.SetTime(ts)
	}
	contentType := attrs[AttrContentType]
	if contentType == "" {
		contentType = cloudevents.ApplicationJSON
	}
	if err := e.SetData(contentType, data); err != nil {
		return e, fmt.Errorf("failed to attach event data: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("invalid event: %w", err)
	}
	if contentType == cloudevents.ApplicationJSON && !json.Valid(data) {
		return e, fmt.Errorf("event %s data is not valid JSON", e.ID())
	}
	return e, nil
}

// pushEnvelope is the body of an Eventarc Pub/Sub "messagePublished" event.
type pushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		OrderingKey string            `json:"orderingKey"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt int    `json:"deliveryAttempt"`
}

// DecodePush unwraps the Pub/Sub message inside an Eventarc push event.
func DecodePush(e cloudevents.Event) (Message, error) {
	var env pushEnvelope
	if err := json.Unmarshal(e.Data(), &env); err != nil {
		return Message{}, fmt.Errorf("failed to decode pubsub push event %s: %w", e.ID(), err)
	}
	id := env.Message.MessageID
	if id == "" {
		id = e.ID()
	}
	return Message{
		ID:         id,
		Key:        env.Message.OrderingKey,
		Data:       env.Message.Data,
		Attributes: env.Message.Attributes,
		Attempt:    env.DeliveryAttempt,
	}, nil
}
