package records

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// pendingIndexFields are the fields FindPending filters and orders on, in
// composite index order. firestore.indexes.json declares the matching index.
var pendingIndexFields = []string{"templateId", "status", "createdAt"}

// FirestoreStore keeps one document per record, keyed by the record id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, file *models.File) error {
	if err := file.CheckInvariants(); err != nil {
		return err
	}
	if _, err := s.doc(file.ID).Create(ctx, file); err != nil {
		return fmt.Errorf("failed to create file %s: %w", file.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.File, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		return nil, notFound(id, err)
	}
	return decode(snap)
}

func (s *FirestoreStore) FindPending(ctx context.Context, templateID string) ([]*models.File, error) {
	iter := s.client.Collection(s.collection).
		Where(pendingIndexFields[0], "==", templateID).
		Where(pendingIndexFields[1], "==", string(models.FileStatusPending)).
		OrderBy(pendingIndexFields[2], firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var pending []*models.File
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if status.Code(err) == codes.FailedPrecondition {
			return nil, fmt.Errorf("pending files query on %s needs the composite index from firestore.indexes.json: %w", s.collection, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list pending files for template %s: %w", templateID, err)
		}
		file, err := decode(snap)
		if err != nil {
			return nil, err
		}
		if file.IsPending() {
			pending = append(pending, file)
		}
	}
	return pending, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx, firestore.Exists); err != nil {
		return notFound(id, err)
	}
	return nil
}

// Transact runs fn inside a Firestore transaction, which holds a lock on the
// document until commit. Contention is not retried here: fn may have produced
// side effects, so the caller's retry policy decides.
func (s *FirestoreStore) Transact(ctx context.Context, id string, fn UpdateFunc) error {
	ref := s.doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFound(id, err)
		}
		current, err := decode(snap)
		if err != nil {
			return err
		}
		next, err := fn(ctx, current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if next.ID != id {
			return fmt.Errorf("file %s: transaction tried to write record %s", id, next.ID)
		}
		if err := next.CheckInvariants(); err != nil {
			return err
		}
		return tx.Set(ref, next)
	}, firestore.MaxAttempts(1))
	if err != nil {
		return fmt.Errorf("transaction on file %s: %w", id, err)
	}
	return nil
}

func decode(snap *firestore.DocumentSnapshot) (*models.File, error) {
	var file models.File
	if err := snap.DataTo(&file); err != nil {
		return nil, fmt.Errorf("failed to decode file %s: %w", snap.Ref.ID, err)
	}
	file.ID = snap.Ref.ID
	return &file, nil
}

func notFound(id string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	return fmt.Errorf("failed to access file %s: %w", id, err)
}
