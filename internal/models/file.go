package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileStatus is the lifecycle state of a generation record.
type FileStatus string

const (
	FileStatusPending FileStatus = "PENDING"
	FileStatusReady   FileStatus = "READY"
	FileStatusError   FileStatus = "ERROR"
)

// File represents one requested document in Firestore. It tracks the
// generation status, the frozen tag payload and, once rendered, the storage
// path of the artifact.
type File struct {
	ID         string     `firestore:"-" json:"id"`
	Name       string     `firestore:"name" json:"name"`
	TemplateID string     `firestore:"templateId" json:"templateId"`
	UserID     string     `firestore:"userId" json:"userId"`
	Payload    string     `firestore:"payload" json:"payload"`
	Path       *string    `firestore:"path" json:"path"`
	Ready      bool       `firestore:"ready" json:"ready"`
	Status     FileStatus `firestore:"status" json:"status"`
	Errors     *string    `firestore:"errors" json:"errors"`
	CreatedAt  time.Time  `firestore:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time  `firestore:"updatedAt" json:"updatedAt"`
}

// NewFile builds a PENDING record for a freshly submitted request.
func NewFile(name, templateID, userID string, payload map[string]string, now time.Time) (*File, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return &File{
		ID:         uuid.NewString(),
		Name:       name,
		TemplateID: templateID,
		UserID:     userID,
		Payload:    string(encoded),
		Status:     FileStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsPending reports whether the record is still eligible for generation.
func (f *File) IsPending() bool {
	return !f.Ready && f.Errors == nil && f.Status == FileStatusPending
}

// DecodePayload returns the tag payload frozen into the record.
func (f *File) DecodePayload() (map[string]string, error) {
	payload := map[string]string{}
	if f.Payload == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(f.Payload), &payload); err != nil {
		return nil, fmt.Errorf("file %s: invalid payload: %w", f.ID, err)
	}
	return payload, nil
}

// MarkReady returns a replacement record pointing at the stored artifact.
func (f *File) MarkReady(path string, now time.Time) *File {
	next := *f
	next.Path = &path
	next.Ready = true
	next.Status = FileStatusReady
	next.Errors = nil
	next.UpdatedAt = now
	return &next
}

// MarkError returns a replacement record carrying the validation messages.
func (f *File) MarkError(messages []string, now time.Time) (*File, error) {
	if messages == nil {
		messages = []string{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode error messages: %w", err)
	}
	errs := string(encoded)
	next := *f
	next.Path = nil
	next.Ready = false
	next.Status = FileStatusError
	next.Errors = &errs
	next.UpdatedAt = now
	return &next, nil
}

// ErrorMessages decodes the stored validation messages, if any.
func (f *File) ErrorMessages() ([]string, error) {
	if f.Errors == nil {
		return nil, nil
	}
	var messages []string
	if err := json.Unmarshal([]byte(*f.Errors), &messages); err != nil {
		return nil, fmt.Errorf("file %s: invalid errors field: %w", f.ID, err)
	}
	return messages, nil
}

// CheckInvariants verifies the ready/status/path/errors relationships.
func (f *File) CheckInvariants() error {
	ready := f.Status == FileStatusReady
	if f.Ready != ready {
		return fmt.Errorf("file %s: ready=%t but status=%s", f.ID, f.Ready, f.Status)
	}
	if ready != (f.Path != nil) {
		return fmt.Errorf("file %s: status=%s but path set=%t", f.ID, f.Status, f.Path != nil)
	}
	if f.Status == FileStatusError && f.Errors == nil {
		return fmt.Errorf("file %s: status ERROR without errors", f.ID)
	}
	switch f.Status {
	case FileStatusPending, FileStatusReady, FileStatusError:
	default:
		return fmt.Errorf("file %s: unknown status %q", f.ID, f.Status)
	}
	return nil
}
