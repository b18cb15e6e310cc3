package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. It is meant for
// development and tests; sessions do not survive a restart.
type MemoryRepository struct {
	mu    sync.Mutex // serializes writes and guards the per-user index
	cache *gocache.Cache
	users map[string]map[string]struct{}
	grace time.Duration
	now   func() time.Time
}

// NewMemoryRepository returns an in-memory session repository. Entries expire
// grace after the session's ExpiresAt; a non-positive grace uses ExpiredRetention.
func NewMemoryRepository(grace time.Duration) *MemoryRepository {
	return &MemoryRepository{
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
		users: make(map[string]map[string]struct{}),
		grace: retention(grace),
		now:   time.Now,
	}
}

func (r *MemoryRepository) ttl(s *domain.Session) time.Duration {
	d := s.ExpiresAt.Sub(r.now()) + r.grace
	if d <= 0 {
		return time.Second
	}
	return d
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, nil
	}
	return v.(*domain.Session).Clone(), nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for id := range r.users[userID] {
		v, ok := r.cache.Get(id)
		if !ok {
			delete(r.users[userID], id)
			continue
		}
		out = append(out, v.(*domain.Session).Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginAt.Before(out[j].LoginAt) })
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Set(s.ID, s.Clone(), r.ttl(s))
	ids, ok := r.users[s.UserID]
	if !ok {
		ids = make(map[string]struct{})
		r.users[s.UserID] = ids
	}
	ids[s.ID] = struct{}{}
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, s *domain.Session, loadedHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache.Get(s.ID)
	if !ok || v.(*domain.Session).TokenHash != loadedHash {
		return ErrStale
	}
	r.cache.Set(s.ID, s.Clone(), r.ttl(s))
	return nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache.Get(id); ok {
		delete(r.users[v.(*domain.Session).UserID], id)
	}
	r.cache.Delete(id)
	return nil
}

func (r *MemoryRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.users[userID] {
		r.cache.Delete(id)
	}
	delete(r.users, userID)
	return nil
}
