package redis

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// UnreadRepo keeps per-conversation unread counters in a redis hash
// (unread:{conversationID} -> field per user). HINCRBY gives the atomic
// increment required under concurrent sends.
type UnreadRepo struct {
	rdb *redis.Client
}

func NewUnreadRepo(rdb *redis.Client) *UnreadRepo {
	return &UnreadRepo{rdb: rdb}
}

func key(conversationID uuid.UUID) string {
	return "unread:" + conversationID.String()
}

func (r *UnreadRepo) Increment(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.rdb.HIncrBy(ctx, key(conversationID), userID.String(), 1).Err()
}

func (r *UnreadRepo) Reset(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.rdb.HSet(ctx, key(conversationID), userID.String(), 0).Err()
}

func (r *UnreadRepo) Get(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	n, err := r.rdb.HGet(ctx, key(conversationID), userID.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
