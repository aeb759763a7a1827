package cache

import (
	"context"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
)

const cleanupInterval = time.Minute

// UserCache is a read-through TTL cache over a UserRepository. User records
// are immutable except the name, so a short TTL is enough; the send pipeline
// resolves both participants on every message and hits this constantly.
type UserCache struct {
	inner   repository.UserRepository
	byID    geche.Geche[string, *domain.User]
	byEmail geche.Geche[string, *domain.User]
}

func NewUserCache(ctx context.Context, inner repository.UserRepository, ttl time.Duration) *UserCache {
	return &UserCache{
		inner:   inner,
		byID:    geche.NewMapTTLCache[string, *domain.User](ctx, ttl, cleanupInterval),
		byEmail: geche.NewMapTTLCache[string, *domain.User](ctx, ttl, cleanupInterval),
	}
}

func (c *UserCache) Create(ctx context.Context, user *domain.User) error {
	if err := c.inner.Create(ctx, user); err != nil {
		return err
	}
	c.store(user)
	return nil
}

func (c *UserCache) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if u, err := c.byID.Get(id.String()); err == nil {
		return u, nil
	}
	u, err := c.inner.GetByID(ctx, id)
	if err != nil || u == nil {
		return u, err
	}
	c.store(u)
	return u, nil
}

func (c *UserCache) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(email)
	if u, err := c.byEmail.Get(email); err == nil {
		return u, nil
	}
	u, err := c.inner.GetByEmail(ctx, email)
	if err != nil || u == nil {
		return u, err
	}
	c.store(u)
	return u, nil
}

// List is not cached; it only backs the contacts screen.
func (c *UserCache) List(ctx context.Context, exclude uuid.UUID) ([]domain.User, error) {
	return c.inner.List(ctx, exclude)
}

func (c *UserCache) store(u *domain.User) {
	c.byID.Set(u.ID.String(), u)
	c.byEmail.Set(strings.ToLower(u.Email), u)
}
