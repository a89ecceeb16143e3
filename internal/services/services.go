package services

import (
	"context"
)

// EventPublisher publishes saga events and waits for the broker
// acknowledgement.
type EventPublisher interface {
	Publish(ctx context.Context, topicID, key, eventType string, data any) (string, error)
}

// Renderer turns merged HTML into a stored PDF artifact.
type Renderer interface {
	Render(ctx context.Context, name, html string) (string, error)
	Upload(ctx context.Context, fileName string) (string, error)
	Remove(ctx context.Context, path string) (bool, error)
	Discard(fileName string)
}

// ArtifactStore reads and removes stored artifacts.
type ArtifactStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) (bool, error)
}
