package records

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// MemoryStore keeps records in process memory. It backs local runs and the
// service tests.
type MemoryStore struct {
	mu    sync.Mutex
	files map[string]models.File
	locks map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: map[string]models.File{},
		locks: map[string]*sync.Mutex{},
	}
}

func (s *MemoryStore) Create(ctx context.Context, file *models.File) error {
	if err := file.CheckInvariants(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[file.ID]; exists {
		return fmt.Errorf("file %s already exists", file.ID)
	}
	s.files[file.ID] = *file
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	return &file, nil
}

func (s *MemoryStore) FindPending(ctx context.Context, templateID string) ([]*models.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*models.File
	for _, file := range s.files {
		if file.TemplateID == templateID && file.IsPending() {
			f := file
			pending = append(pending, &f)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	delete(s.files, id)
	return nil
}

func (s *MemoryStore) Transact(ctx context.Context, id string, fn UpdateFunc) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Get(ctx, id)
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = *next
	return nil
}

func (s *MemoryStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
