package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

func testLookup() staticLookup {
	return staticLookup{
		templates: map[string]models.Template{
			"T1": templateT1,
			"T2": {ID: "T2", Name: "Sem seções"},
		},
		sections: map[string][]models.Section{
			"T1": {
				{ID: "S1", TemplateID: "T1", HTMLContent: "<h1>#TITLE#</h1>", SectionOrder: 1},
				{ID: "S2", TemplateID: "T1", HTMLContent: "<p>#NAME#</p>", SectionOrder: 2},
			},
		},
	}
}

func TestDeliver_PublishesTemplateKeyedByID(t *testing.T) {
	pub := &fakePublisher{}
	d := newDeliverer(testLookup(), pub, DelivererConfig{DeliveredTopic: "template.delivered"})

	delivered, err := d.Deliver(context.Background(), "T1")
	require.NoError(t, err)
	assert.Len(t, delivered.Sections, 2)

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, "template.delivered", event.topic)
	assert.Equal(t, "T1", event.key)
	assert.Equal(t, models.TopicTemplateDelivered, event.eventType)

	payload, ok := event.data.(models.TemplateDelivered)
	require.True(t, ok)
	assert.Equal(t, "T1", payload.Data.Template.ID)
	assert.Equal(t, "S1", payload.Data.Sections[0].ID)
}

func TestDeliver_NotFound(t *testing.T) {
	pub := &fakePublisher{}
	d := newDeliverer(testLookup(), pub, DelivererConfig{DeliveredTopic: "template.delivered"})

	_, err := d.Deliver(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = d.Deliver(context.Background(), "T2")
	assert.ErrorIs(t, err, models.ErrNotFound, "a template without sections is not deliverable")

	assert.Empty(t, pub.events)
}

func TestDeliver_PublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	d := newDeliverer(testLookup(), pub, DelivererConfig{DeliveredTopic: "template.delivered"})

	_, err := d.Deliver(context.Background(), "T1")

	var te *models.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestHandleRequested(t *testing.T) {
	pub := &fakePublisher{}
	d := newDeliverer(testLookup(), pub, DelivererConfig{DeliveredTopic: "template.delivered"})

	err := d.HandleRequested(context.Background(),
		delivery(t, models.TopicTemplateRequested, "T1", models.TemplateRequested{TemplateID: "T1"}))
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)

	err = d.HandleRequested(context.Background(),
		delivery(t, models.TopicTemplateRequested, "", models.TemplateRequested{}))
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
}
