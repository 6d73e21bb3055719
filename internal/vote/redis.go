package vote

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/roach88/puzzlegate/internal/forum"
)

// RedisState keeps the actor's votes in Redis, one hash per item type:
//
//	{prefix}:{actor}:threads -> {threadID: "upvote"|"downvote"}
//	{prefix}:{actor}:posts   -> {postID:   "upvote"|"downvote"}
//
// It lets several client processes of the same actor share vote state.
type RedisState struct {
	rdb    redis.UniversalClient
	prefix string
	actor  string
}

var _ StateStore = (*RedisState)(nil)

// DefaultRedisPrefix is the key prefix used when none is given.
const DefaultRedisPrefix = "puzzlegate:votes"

// NewRedisState creates a Redis-backed vote state for actor.
func NewRedisState(rdb redis.UniversalClient, actor, prefix string) *RedisState {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisState{rdb: rdb, prefix: prefix, actor: actor}
}

func (r *RedisState) hash(t forum.ItemType) string {
	return r.prefix + ":" + r.actor + ":" + string(t)
}

func (r *RedisState) Get(ctx context.Context, key forum.ItemKey) (forum.Vote, error) {
	action, err := r.rdb.HGet(ctx, r.hash(key.Type), strconv.FormatInt(key.ID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return forum.VoteNone, nil
	}
	if err != nil {
		return forum.VoteNone, fmt.Errorf("get vote %s: %w", key, err)
	}
	return forum.ParseVote(action)
}

func (r *RedisState) Put(ctx context.Context, key forum.ItemKey, v forum.Vote) error {
	field := strconv.FormatInt(key.ID, 10)
	var err error
	if v == forum.VoteNone {
		err = r.rdb.HDel(ctx, r.hash(key.Type), field).Err()
	} else {
		err = r.rdb.HSet(ctx, r.hash(key.Type), field, v.Action()).Err()
	}
	if err != nil {
		return fmt.Errorf("put vote %s: %w", key, err)
	}
	return nil
}

func (r *RedisState) All(ctx context.Context, itemType forum.ItemType) (map[int64]forum.Vote, error) {
	fields, err := r.rdb.HGetAll(ctx, r.hash(itemType)).Result()
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	out := make(map[int64]forum.Vote, len(fields))
	for field, action := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		v, err := forum.ParseVote(action)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func (r *RedisState) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.hash(forum.ItemThreads), r.hash(forum.ItemPosts)).Err(); err != nil {
		return fmt.Errorf("clear votes: %w", err)
	}
	return nil
}
