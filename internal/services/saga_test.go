package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitchili/dynadoc-flow/internal/messaging"
	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/records"
	"github.com/vitchili/dynadoc-flow/internal/retry"
)

// bus delivers each published event synchronously to the dispatcher
// subscribed to its topic, going through the same envelope as Pub/Sub.
type bus struct {
	mu          sync.Mutex
	subscribers map[string]*messaging.Dispatcher
	outcomes    []messaging.Outcome
}

func (b *bus) subscribe(topic string, d *messaging.Dispatcher) {
	if b.subscribers == nil {
		b.subscribers = map[string]*messaging.Dispatcher{}
	}
	b.subscribers[topic] = d
}

func (b *bus) Publish(ctx context.Context, topicID, key, eventType string, data any) (string, error) {
	event, err := messaging.NewEvent("saga-test", eventType, key, data)
	if err != nil {
		return "", err
	}
	payload, attrs := messaging.Encode(event)

	d, ok := b.subscribers[topicID]
	if !ok {
		return "", fmt.Errorf("no subscriber for %s", topicID)
	}
	outcome := d.Dispatch(ctx, messaging.Message{ID: uuid.NewString(), Key: key, Data: payload, Attributes: attrs})

	b.mu.Lock()
	b.outcomes = append(b.outcomes, outcome)
	b.mu.Unlock()
	return event.ID(), nil
}

func TestSaga_RequestToReadyFile(t *testing.T) {
	ctx := context.Background()
	templateID := uuid.NewString()
	lookup := staticLookup{
		templates: map[string]models.Template{templateID: {ID: templateID, Name: "Contrato"}},
		sections: map[string][]models.Section{templateID: {
			{ID: "S2", TemplateID: templateID, HTMLContent: "<p>Assinado por #NAME#</p>", SectionOrder: 2},
			{ID: "S1", TemplateID: templateID, HTMLContent: "<h1>Contrato de #NAME#</h1>", SectionOrder: 1},
		}},
	}

	store := records.NewMemoryStore()
	objects := newObjectStore()
	b := &bus{}
	consumerPolicy := retry.Policy{Attempts: 2, Backoff: time.Millisecond}

	deliverer := newDeliverer(lookup, b, DelivererConfig{DeliveredTopic: models.TopicTemplateDelivered})
	generator := newGenerator(store, newTestRenderer(t, objects), GeneratorConfig{Policy: fastPolicy})
	requester := newRequester(store, b, RequesterConfig{RequestedTopic: models.TopicTemplateRequested})

	b.subscribe(models.TopicTemplateRequested, messaging.NewDispatcher(
		messaging.DispatcherConfig{Subscription: "deliverer", Policy: consumerPolicy}, deliverer.HandleRequested))
	b.subscribe(models.TopicTemplateDelivered, messaging.NewDispatcher(
		messaging.DispatcherConfig{Subscription: "generator", Policy: consumerPolicy}, generator.HandleDelivered))

	okID, err := requester.Submit(ctx, models.GenerationRequest{
		TemplateID: templateID, Name: "Contrato Ana", UserID: "u1", Payload: map[string]string{"NAME": "Ana"},
	})
	require.NoError(t, err)
	badID, err := requester.Submit(ctx, models.GenerationRequest{
		TemplateID: templateID, Name: "Contrato sem nome", UserID: "u1", Payload: map[string]string{},
	})
	require.NoError(t, err)

	ok, err := store.Get(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusReady, ok.Status)
	require.NotNil(t, ok.Path)
	assert.Contains(t, objects.objects, *ok.Path)

	bad, err := store.Get(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusError, bad.Status)

	for _, outcome := range b.outcomes {
		assert.Equal(t, messaging.Ack, outcome)
	}
	assert.Len(t, b.outcomes, 4)
}

func TestSaga_UnknownTemplateIsDroppedAfterRetries(t *testing.T) {
	ctx := context.Background()
	store := records.NewMemoryStore()
	b := &bus{}
	calls := 0

	deliverer := newDeliverer(staticLookup{}, b, DelivererConfig{DeliveredTopic: models.TopicTemplateDelivered})
	b.subscribe(models.TopicTemplateRequested, messaging.NewDispatcher(
		messaging.DispatcherConfig{Subscription: "deliverer", Policy: retry.Policy{Attempts: 3, Backoff: time.Millisecond}},
		func(ctx context.Context, d messaging.Delivery) error {
			calls++
			return deliverer.HandleRequested(ctx, d)
		}))
	requester := newRequester(store, b, RequesterConfig{RequestedTopic: models.TopicTemplateRequested})

	req := validRequest()
	id, err := requester.Submit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	require.Len(t, b.outcomes, 1)
	assert.Equal(t, messaging.Ack, b.outcomes[0])

	file, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, file.IsPending(), "the file waits for a later delivery")
}
