package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vitchili/dynadoc-flow/internal/config"
	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/records"
)

// FilesFunction serves user operations on generated files.
type FilesFunction struct {
	store     records.Store
	artifacts ArtifactStore
	runtime   *runtime
}

// NewFiles creates a FilesFunction from the environment.
func NewFiles(ctx context.Context) (*FilesFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Require("PROJECT_ID", "FIRESTORE_COLLECTION", "ARTIFACTS_BUCKET"); err != nil {
		return nil, err
	}

	rt := &runtime{config: cfg}
	store, err := newRecordStore(ctx, cfg, rt)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	renderer, err := newRenderer(ctx, cfg, rt)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	f := newFiles(store, renderer)
	f.runtime = rt
	return f, nil
}

func newFiles(store records.Store, artifacts ArtifactStore) *FilesFunction {
	return &FilesFunction{store: store, artifacts: artifacts}
}

// Get returns the file record.
func (f *FilesFunction) Get(ctx context.Context, id string) (*models.File, error) {
	return f.store.Get(ctx, id)
}

// Download returns the file's display name and artifact bytes. It fails with
// models.ErrNotReady while the file has no stored artifact.
func (f *FilesFunction) Download(ctx context.Context, id string) (string, []byte, error) {
	logCtx := slog.With("fileId", id)

	file, err := f.store.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if file.Path == nil || *file.Path == "" {
		return "", nil, fmt.Errorf("file %s: %w", id, models.ErrNotReady)
	}

	content, err := f.artifacts.Download(ctx, *file.Path)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to download artifact", "path", *file.Path, "error", err)
		return "", nil, fmt.Errorf("failed to download file %s: %w", id, err)
	}
	return file.Name, content, nil
}

// Delete removes the stored artifact, if any, and then the record.
func (f *FilesFunction) Delete(ctx context.Context, id string) error {
	logCtx := slog.With("fileId", id)

	file, err := f.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if file.Path != nil && *file.Path != "" {
		removed, err := f.artifacts.Remove(ctx, *file.Path)
		if err != nil {
			logCtx.ErrorContext(ctx, "Failed to remove artifact", "path", *file.Path, "error", err)
			return fmt.Errorf("failed to remove artifact of file %s: %w", id, err)
		}
		if !removed {
			logCtx.WarnContext(ctx, "Artifact was already gone", "path", *file.Path)
		}
	}

	if err := f.store.Delete(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	logCtx.InfoContext(ctx, "File deleted.")
	return nil
}

// Close releases the store and storage clients.
func (f *FilesFunction) Close() error {
	return f.runtime.Close()
}
