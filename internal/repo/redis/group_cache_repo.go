package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	groupKeyPrefix      = "acct_group:"
	generationKeyPrefix = "acct_group_gen:"
)

var errStaleGeneration = errors.New("group generation changed")

// GroupCacheRepo caches resolved account-group memberships per account.
// Each account also has a generation counter that Invalidate bumps; Set only
// writes when the generation a reader saw before loading is still current.
type GroupCacheRepo struct {
	client *goredis.Client
}

func NewGroupCacheRepo(client *goredis.Client) *GroupCacheRepo {
	return &GroupCacheRepo{client: client}
}

func (r *GroupCacheRepo) Get(ctx context.Context, accountID int64) ([]int64, int64, bool, error) {
	if r.client == nil {
		return nil, 0, false, fmt.Errorf("redis client is nil")
	}

	values, err := r.client.MGet(ctx, groupKey(accountID), generationKey(accountID)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("get cached group: %w", err)
	}

	var generation int64
	if raw, ok := values[1].(string); ok {
		generation, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, false, fmt.Errorf("decode group generation: %w", err)
		}
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, generation, false, nil
	}
	var members []int64
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil, generation, false, fmt.Errorf("decode cached group: %w", err)
	}
	return members, generation, true, nil
}

// Set reports false without error when the account was invalidated after the
// caller read generation.
func (r *GroupCacheRepo) Set(ctx context.Context, accountID int64, members []int64, generation int64, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	raw, err := json.Marshal(members)
	if err != nil {
		return false, fmt.Errorf("encode cached group: %w", err)
	}

	genKey := generationKey(accountID)
	err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, groupKey(accountID), raw, ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStaleGeneration), errors.Is(err, goredis.TxFailedErr):
		return false, nil
	}
	return false, fmt.Errorf("set cached group: %w", err)
}

func (r *GroupCacheRepo) Invalidate(ctx context.Context, accountIDs ...int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(accountIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, groupKey(id))
	}
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, id := range accountIDs {
			pipe.Incr(ctx, generationKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cached groups: %w", err)
	}
	return nil
}

func groupKey(accountID int64) string {
	return groupKeyPrefix + strconv.FormatInt(accountID, 10)
}

func generationKey(accountID int64) string {
	return generationKeyPrefix + strconv.FormatInt(accountID, 10)
}
