package polls

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/classpoll/backend/internal/models"
)

// Filter narrows a List query.
type Filter struct {
	State     models.PollState // empty matches any state
	CreatedBy string           // empty matches any creator
	Limit     int              // <= 0 means no limit
}

// Store is the document store polls are loaded from and saved to.
// Save must fail with ErrConflict when the stored version differs from p.Version.
type Store interface {
	Insert(ctx context.Context, p *models.Poll) error
	Get(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	GetByExternalID(ctx context.Context, externalID int64) (*models.Poll, error)
	Save(ctx context.Context, p *models.Poll) error
	// Latest returns the most recently created poll in the given state, or any state when state is empty.
	Latest(ctx context.Context, state models.PollState) (*models.Poll, error)
	// List returns matching polls, newest first.
	List(ctx context.Context, f Filter) ([]*models.Poll, error)
}

// MemoryStore is an in-process Store. Loads and saves copy, so callers never share documents.
type MemoryStore struct {
	mu    sync.RWMutex
	polls map[uuid.UUID]*models.Poll
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{polls: make(map[uuid.UUID]*models.Poll)}
}

func (s *MemoryStore) Insert(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[p.ID]; ok {
		return ErrConflict
	}
	p.Version = 1
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, ErrPollNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetByExternalID(_ context.Context, externalID int64) (*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.polls {
		if p.ExternalID == externalID {
			return p.Clone(), nil
		}
	}
	return nil, ErrPollNotFound
}

func (s *MemoryStore) Save(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.polls[p.ID]
	if !ok {
		return ErrPollNotFound
	}
	if cur.Version != p.Version {
		return ErrConflict
	}
	p.Version++
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, state models.PollState) (*models.Poll, error) {
	list, err := s.List(ctx, Filter{State: state, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrPollNotFound
	}
	return list[0], nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*models.Poll, error) {
	s.mu.RLock()
	out := make([]*models.Poll, 0, len(s.polls))
	for _, p := range s.polls {
		if f.State != "" && p.State != f.State {
			continue
		}
		if f.CreatedBy != "" && p.CreatedBy != f.CreatedBy {
			continue
		}
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID > out[j].ExternalID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
