package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lunarhall/parley/internal/domain"
)

// Directory resolves user IDs to records. The database user repository
// satisfies this.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// UserCache memoizes the identity objects referenced by connections so that
// every connection of the same user shares one record.
type UserCache struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.PublicUser
	dir   Directory
}

func NewUserCache(dir Directory) *UserCache {
	return &UserCache{
		users: make(map[uuid.UUID]*domain.PublicUser),
		dir:   dir,
	}
}

// Lookup returns the cached record for a user, resolving through the
// directory on a miss.
func (uc *UserCache) Lookup(ctx context.Context, id uuid.UUID) (*domain.PublicUser, error) {
	uc.mu.RLock()
	u, ok := uc.users[id]
	uc.mu.RUnlock()
	if ok {
		return u, nil
	}

	record, err := uc.dir.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pub := record.ToPublic()

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if existing, ok := uc.users[id]; ok {
		return existing, nil
	}
	uc.users[id] = &pub
	return &pub, nil
}

// Invalidate drops a cached record so the next lookup refreshes it.
func (uc *UserCache) Invalidate(id uuid.UUID) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.users, id)
}
