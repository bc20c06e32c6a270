package registry

import (
	"context"
	"sync"
	"time"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/models"
)

// MemoryStore keeps everything in process. All reads return copies.
type MemoryStore struct {
	mu       sync.RWMutex
	apps     map[string]*models.LoanApplication
	users    map[string]*models.User
	byMobile map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:     make(map[string]*models.LoanApplication),
		users:    make(map[string]*models.User),
		byMobile: make(map[string]string),
		now:      time.Now,
	}
}

func (s *MemoryStore) Insert(_ context.Context, app *models.LoanApplication) (*models.LoanApplication, error) {
	stored, err := prepareInsert(app, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apps[stored.ID]; exists {
		return nil, errors.NewDuplicateIDError("application", stored.ID)
	}
	s.apps[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, errors.NewNotFoundError("application", id)
	}
	return app.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, mutate MutateFunc) (*models.LoanApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.apps[id]
	if !ok {
		return nil, errors.NewNotFoundError("application", id)
	}
	next, err := applyMutation(current, mutate, s.now())
	if err != nil {
		return nil, err
	}
	s.apps[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.LoanApplication, 0)
	for _, app := range s.apps {
		if app.UserID == userID {
			out = append(out, app.Clone())
		}
	}
	sortNewest(out)
	return out, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*models.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.LoanApplication, 0, len(s.apps))
	for _, app := range s.apps {
		out = append(out, app.Clone())
	}
	sortNewest(out)
	return out, nil
}

func (s *MemoryStore) InsertUser(_ context.Context, user *models.User) (*models.User, error) {
	stored, err := prepareUser(user, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[stored.ID]; exists {
		return nil, errors.NewDuplicateIDError("user", stored.ID)
	}
	if _, exists := s.byMobile[stored.Mobile]; exists {
		return nil, errors.NewDuplicateIDError("user", stored.Mobile)
	}
	s.users[stored.ID] = stored
	s.byMobile[stored.Mobile] = stored.ID
	return stored.Clone(), nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, errors.NewNotFoundError("user", id)
	}
	return user.Clone(), nil
}

func (s *MemoryStore) FindUserByMobile(_ context.Context, mobile string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMobile[mobile]
	if !ok {
		return nil, errors.NewNotFoundError("user", mobile)
	}
	return s.users[id].Clone(), nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, id string, mutate UserMutateFunc) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[id]
	if !ok {
		return nil, errors.NewNotFoundError("user", id)
	}
	next, err := applyUserMutation(current, mutate)
	if err != nil {
		return nil, err
	}
	s.users[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
