package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitchili/dynadoc-flow/internal/messaging"
	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/render"
	"github.com/vitchili/dynadoc-flow/internal/retry"
)

// objectStore is an in-memory bucket whose first failPuts writes fail.
type objectStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPuts int
	puts     int
}

func newObjectStore() *objectStore {
	return &objectStore{objects: map[string][]byte{}}
}

func (s *objectStore) Put(ctx context.Context, path string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.puts <= s.failPuts {
		return errors.New("bucket unavailable")
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[path] = content
	return nil
}

func (s *objectStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[path]
	if !ok {
		return nil, models.ErrNotFound
	}
	return content, nil
}

func (s *objectStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; !ok {
		return models.ErrNotFound
	}
	delete(s.objects, path)
	return nil
}

func (s *objectStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func newTestRenderer(t *testing.T, store *objectStore) *render.Renderer {
	t.Helper()
	r, err := render.New(t.TempDir(), "files/", store)
	require.NoError(t, err)
	return r
}

type published struct {
	topic     string
	key       string
	eventType string
	data      any
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []published
}

func (p *fakePublisher) Publish(ctx context.Context, topicID, key, eventType string, data any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", &models.TransportError{Topic: topicID, Err: p.err}
	}
	p.events = append(p.events, published{topic: topicID, key: key, eventType: eventType, data: data})
	return "evt-" + key, nil
}

type staticLookup struct {
	templates map[string]models.Template
	sections  map[string][]models.Section
}

func (l staticLookup) Template(ctx context.Context, id string) (*models.Template, error) {
	tpl, ok := l.templates[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &tpl, nil
}

func (l staticLookup) Sections(ctx context.Context, templateID string) ([]models.Section, error) {
	return l.sections[templateID], nil
}

// delivery wraps data in a CloudEvent the way the dispatcher hands it to handlers.
func delivery(t *testing.T, eventType, key string, data any) messaging.Delivery {
	t.Helper()
	event, err := messaging.NewEvent("test", eventType, key, data)
	require.NoError(t, err)
	return messaging.Delivery{Event: event, Key: key, MessageID: "m-1", Attempt: 1}
}

var fastPolicy = retry.Policy{Attempts: 3, Backoff: time.Millisecond}
