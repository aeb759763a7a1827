package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/repository"
	"github.com/vedran77/courier/internal/repository/memory"
)

// countingRepo counts lookups that reach the underlying store.
type countingRepo struct {
	repository.UserRepository
	hits atomic.Int64
}

func (r *countingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.hits.Add(1)
	return r.UserRepository.GetByID(ctx, id)
}

func (r *countingRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.hits.Add(1)
	return r.UserRepository.GetByEmail(ctx, email)
}

func TestUserCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{UserRepository: memory.NewUserRepo()}
	c := NewUserCache(ctx, inner, time.Minute)

	u := &domain.User{ID: uuid.New(), Email: "alice@example.com", Name: "Alice"}
	require.NoError(t, c.Create(ctx, u))

	// Create primed the cache: repeated lookups never hit the store.
	for i := 0; i < 5; i++ {
		got, err := c.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	}
	assert.Equal(t, int64(0), inner.hits.Load())

	got, err := c.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, int64(0), inner.hits.Load())
}

func TestUserCache_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{UserRepository: memory.NewUserRepo()}
	c := NewUserCache(ctx, inner, time.Minute)

	missing := uuid.New()
	for i := 0; i < 2; i++ {
		got, err := c.GetByID(ctx, missing)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	// Absent users go to the store every time; a later registration must be
	// visible immediately.
	assert.Equal(t, int64(2), inner.hits.Load())
}
